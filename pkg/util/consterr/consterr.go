package consterr

//ConstErr allows errors to be declared as constants, ex. const ErrX = ConstErr("...")
type ConstErr string

//Error returns the value of the underlying string
func (errstr ConstErr) Error() string { return string(errstr) }

//ErrUnsupported can be returned by optional device capabilities a particular
// implementation does not provide
const ErrUnsupported = ConstErr("This operation is not supported by this device")

var _ error = ErrUnsupported //compile time type check
