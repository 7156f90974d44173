package irq

// ExceptionNum defines an exception number that can be passed to
// HandleException and HandleExceptionWithCode.
type ExceptionNum uint8

const (
	// DivideByZero occurs when a DIV/IDIV instruction has a zero divisor.
	DivideByZero = ExceptionNum(0)

	// InvalidOpcode occurs when the CPU fails to decode an instruction.
	InvalidOpcode = ExceptionNum(6)

	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception
	// handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a PDT or PDT-entry is not
	// present or when a privilege and/or RW protection check fails.
	PageFaultException = ExceptionNum(14)

	numExceptions = 32
)

// ExceptionHandler handles an exception that does not push an error code
// to the stack.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that pushes an error code
// to the stack.
type ExceptionHandlerWithCode func(uint32, *Frame, *Regs)

var (
	handlers         [numExceptions]ExceptionHandler
	handlersWithCode [numExceptions]ExceptionHandlerWithCode
)

// HandleException registers an exception handler (without an error code)
// for the given exception number.
func HandleException(num ExceptionNum, handler ExceptionHandler) {
	handlers[num] = handler
}

// HandleExceptionWithCode registers an exception handler (with an error
// code) for the given exception number.
func HandleExceptionWithCode(num ExceptionNum, handler ExceptionHandlerWithCode) {
	handlersWithCode[num] = handler
}

// dispatch is invoked by the assembly trap stub for every exception vector
// it has been wired to handle. errorCode is 0 for exceptions the CPU does
// not push an error code for.
func dispatch(vector uint32, errorCode uint32, frame *Frame, regs *Regs) {
	if h := handlersWithCode[vector]; h != nil {
		h(errorCode, frame, regs)
		return
	}
	if h := handlers[vector]; h != nil {
		h(frame, regs)
		return
	}
	unhandledException(ExceptionNum(vector), errorCode, frame, regs)
}
