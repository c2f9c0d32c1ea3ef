package classfile

import "fmt"

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits "(IJLjava/lang/String;)V" into field types.
func ParseMethodDescriptor(desc string) (*MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, fmt.Errorf("classfile: invalid method descriptor %q", desc)
	}
	mt := &MethodType{}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldTypeLen(desc[i:])
		if err != nil {
			return nil, fmt.Errorf("classfile: invalid method descriptor %q: %w", desc, err)
		}
		mt.Params = append(mt.Params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, fmt.Errorf("classfile: invalid method descriptor %q: missing ')'", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret)
		if err != nil || n != len(ret) {
			return nil, fmt.Errorf("classfile: invalid return type in %q", desc)
		}
	}
	mt.Return = ret
	return mt, nil
}

func fieldTypeLen(s string) (int, error) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims >= len(s) {
		return 0, fmt.Errorf("truncated field type")
	}
	switch s[dims] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return dims + 1, nil
	case 'L':
		for j := dims + 1; j < len(s); j++ {
			if s[j] == ';' {
				if j == dims+1 {
					return 0, fmt.Errorf("empty class name")
				}
				return j + 1, nil
			}
		}
		return 0, fmt.Errorf("unterminated class type")
	default:
		return 0, fmt.Errorf("unknown type %q", s[dims])
	}
}

// SlotSize returns the number of local variable slots a field type occupies.
func SlotSize(fieldType string) int {
	if fieldType == "J" || fieldType == "D" {
		return 2
	}
	if fieldType == "V" {
		return 0
	}
	return 1
}

// ArgSlots returns the slots taken by the parameters, excluding the receiver.
func (mt *MethodType) ArgSlots() int {
	n := 0
	for _, p := range mt.Params {
		n += SlotSize(p)
	}
	return n
}
