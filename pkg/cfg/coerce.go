package cfg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	trueWords  = []string{"true", "on", "yes"}
	falseWords = []string{"false", "off", "no"}
)

// coerce converts a raw value token into a value of the given kind using
// the built-in rules.
func coerce(kind Kind, tok token) (Value, error) {
	switch kind {
	case KindInt:
		if tok.float {
			return Value{}, errors.New("floating point value where integer expected")
		}
		if !intPattern.MatchString(tok.text) {
			return Value{}, errors.New("not an integer")
		}
		n, err := parseInt(tok.text)
		if err != nil {
			return Value{}, err
		}
		return IntValue(n), nil

	case KindFloat:
		switch {
		case intPattern.MatchString(tok.text):
			n, err := parseInt(tok.text)
			if err != nil {
				return Value{}, err
			}
			return FloatValue(float64(n)), nil
		case floatPattern.MatchString(tok.text):
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return Value{}, err
			}
			return FloatValue(f), nil
		default:
			return Value{}, errors.New("not a number")
		}

	case KindBool:
		if tok.kind == tokNumber {
			return Value{}, errors.New("number where boolean expected")
		}
		return parseBool(tok.text)

	case KindString:
		return StringValue(tok.text), nil
	}
	return Value{}, fmt.Errorf("%s options take no value", kind)
}

func parseBool(text string) (Value, error) {
	for _, w := range trueWords {
		if strings.EqualFold(text, w) {
			return BoolValue(true), nil
		}
	}
	for _, w := range falseWords {
		if strings.EqualFold(text, w) {
			return BoolValue(false), nil
		}
	}
	return Value{}, fmt.Errorf("'%s' is not one of true, false, on, off, yes, no", text)
}

// parseInt parses text that already matched intPattern.
func parseInt(text string) (int64, error) {
	sign, digits := "", text
	if digits[0] == '+' || digits[0] == '-' {
		if digits[0] == '-' {
			sign = "-"
		}
		digits = digits[1:]
	}

	base := 10
	switch {
	case len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X"):
		base, digits = 16, digits[2:]
	case len(digits) > 1 && digits[0] == '0':
		base, digits = 8, digits[1:]
	}

	n, err := strconv.ParseInt(sign+digits, base, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return 0, fmt.Errorf("integer %s out of range", text)
		}
		return 0, err
	}
	return n, nil
}
