package log

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a Field from an arbitrary key/value pair.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str creates a string Field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int Field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 Field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 creates a uint64 Field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool Field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a Field holding a time.Duration (logged via its String form).
func Duration(key string, value interface{ String() string }) Field {
	return Field{Key: key, Value: value.String()}
}

// Err creates an "error" Field. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component creates the standard component Field used to tag subsystem logs.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }
