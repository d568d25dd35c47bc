package pwmbox

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// This file contains (un)marshallers for State, allowing to
// report it by name to the http api and config files.

type State int

const (
	Unbound State = State(iota)
	Bound   State = State(iota)
)

var stateNames = [...]string{"Unbound", "Bound"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

func (s State) MarshalJSON() ([]byte, error) {
	b, err := s.MarshalText()
	if err == nil {
		b = []byte(fmt.Sprintf("\"%s\"", string(b)))
	}
	return b, err
}

func (s *State) UnmarshalJSON(data []byte) error {
	dataLength := len(data)
	if dataLength < 2 || data[0] != '"' || data[dataLength-1] != '"' {
		return errors.New("State.UnmarshalJSON: Invalid JSON provided")
	}
	return s.UnmarshalText(data[1 : dataLength-1])
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	str := string(b)
	for i, v := range stateNames {
		if strings.EqualFold(v, str) {
			*s = State(i)
			return nil
		}
	}
	i, err := strconv.Atoi(str)
	if err == nil {
		*s = State(i)
		return nil
	}
	return fmt.Errorf("Cannot unmarshall \"%s\" to State. Is it mispelled?", str)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts a mode name (case-insensitive) or its number.
func (m *Mode) UnmarshalText(b []byte) error {
	str := string(b)
	for _, v := range []Mode{Off, PWM, On} {
		if strings.EqualFold(v.String(), str) {
			*m = v
			return nil
		}
	}
	i, err := strconv.Atoi(str)
	if err == nil {
		*m = Mode(i)
		return nil
	}
	return fmt.Errorf("Cannot unmarshall \"%s\" to Mode. Is it mispelled?", str)
}
