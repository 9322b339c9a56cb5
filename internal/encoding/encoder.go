// Package encoding turns validated JSON records into protobuf payloads.
// Message descriptors are built at startup from the destination's declared
// field list, so no generated code ships with the binary.
package encoding

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Field declares one record field by name and wire type.
type Field struct {
	Name string
	Type string
}

// Encoder encodes records for a single destination message type.
type Encoder struct {
	md     protoreflect.MessageDescriptor
	fields map[string]protoreflect.FieldDescriptor
}

// recordsPackage namespaces dynamically built message types.
const recordsPackage = "flume.records"

// FullName returns the fully qualified name a message built by NewEncoder
// will carry, e.g. FullName("Orders") == "flume.records.Orders".
func FullName(messageName string) string {
	return recordsPackage + "." + messageName
}

// NewEncoder builds a proto3 message descriptor named messageName from the
// declared fields. Field numbers are assigned in declaration order starting
// at 1, so reordering fields in configuration changes the wire format.
func NewEncoder(messageName string, fields []Field) (*Encoder, error) {
	if messageName == "" {
		return nil, fmt.Errorf("encoding: message name required")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("encoding: message %s declares no fields", messageName)
	}
	fdFields := make([]*descriptorpb.FieldDescriptorProto, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("encoding: message %s field %d has no name", messageName, i+1)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("encoding: message %s declares field %q twice", messageName, f.Name)
		}
		seen[f.Name] = struct{}{}
		fdFields = append(fdFields, &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(f.Name),
			Number: proto.Int32(int32(i + 1)),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   wireType(f.Type).Enum(),
		})
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(strings.ToLower(messageName) + ".proto"),
		Package: proto.String(recordsPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name:  proto.String(messageName),
			Field: fdFields,
		}},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding: build descriptor for %s: %w", messageName, err)
	}
	md := fd.Messages().Get(0)
	byName := make(map[string]protoreflect.FieldDescriptor, md.Fields().Len())
	for i := 0; i < md.Fields().Len(); i++ {
		f := md.Fields().Get(i)
		byName[string(f.Name())] = f
	}
	return &Encoder{md: md, fields: byName}, nil
}

// Descriptor returns the full message name, e.g. "flume.records.Orders".
func (e *Encoder) Descriptor() string { return string(e.md.FullName()) }

// Encode marshals one decoded JSON object. Every key must match a declared
// field; absent fields take proto3 defaults.
func (e *Encoder) Encode(record map[string]any) ([]byte, error) {
	msg := dynamicpb.NewMessage(e.md)
	for name, v := range record {
		fd, ok := e.fields[name]
		if !ok {
			return nil, fmt.Errorf("encoding: unknown field %q", name)
		}
		if v == nil {
			continue
		}
		val, err := coerce(fd, v)
		if err != nil {
			return nil, fmt.Errorf("encoding: field %q: %w", name, err)
		}
		msg.Set(fd, val)
	}
	return proto.Marshal(msg)
}

// wireType maps a configured type name onto a proto3 scalar. Unrecognized
// names fall back to string so a loose config degrades instead of failing.
func wireType(t string) descriptorpb.FieldDescriptorProto_Type {
	switch strings.ToLower(t) {
	case "int32":
		return descriptorpb.FieldDescriptorProto_TYPE_INT32
	case "int64", "int":
		return descriptorpb.FieldDescriptorProto_TYPE_INT64
	case "float":
		return descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	case "double", "float64":
		return descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	case "bool":
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL
	case "bytes":
		return descriptorpb.FieldDescriptorProto_TYPE_BYTES
	default:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING
	}
}

// coerce converts a decoded JSON value into the field's protoreflect value.
// JSON numbers arrive as float64; integer fields require an integral value.
func coerce(fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		s, ok := v.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want string, got %T", v)
		}
		return protoreflect.ValueOfString(s), nil
	case protoreflect.BoolKind:
		b, ok := v.(bool)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want bool, got %T", v)
		}
		return protoreflect.ValueOfBool(b), nil
	case protoreflect.Int32Kind:
		n, err := integral(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return protoreflect.Value{}, fmt.Errorf("value %d overflows int32", n)
		}
		return protoreflect.ValueOfInt32(int32(n)), nil
	case protoreflect.Int64Kind:
		n, err := integral(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt64(n), nil
	case protoreflect.FloatKind:
		f, ok := number(v)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want number, got %T", v)
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil
	case protoreflect.DoubleKind:
		f, ok := number(v)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want number, got %T", v)
		}
		return protoreflect.ValueOfFloat64(f), nil
	case protoreflect.BytesKind:
		s, ok := v.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want base64 string, got %T", v)
		}
		return protoreflect.ValueOfBytes([]byte(s)), nil
	}
	return protoreflect.Value{}, fmt.Errorf("unsupported field kind %v", fd.Kind())
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func integral(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}
