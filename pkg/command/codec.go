// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultKey is the first field of each command.
	DefaultKey = "COMMAND"

	// DefaultSeparator joins a command's fields.
	DefaultSeparator = ":"

	// GetAltitude requests the target drone's altitude.
	GetAltitude = "GET_ALTITUDE"
)

// ErrInvalidField is returned if a command's field is empty or contains the separator.
var ErrInvalidField = errors.New("invalid command field")

// Command is a decoded command, addressed to a Target drone.
type Command struct {
	Name   string
	Target string
}

func (c Command) String() string {
	return fmt.Sprintf("%s(target=%s)", c.Name, c.Target)
}

// Codec encodes and decodes Commands. A Codec is an immutable value and safe for concurrent use.
type Codec struct {
	Key       string
	Separator string
}

// DefaultCodec returns the Codec for the "COMMAND:NAME:TARGET" format.
func DefaultCodec() Codec {
	return Codec{
		Key:       DefaultKey,
		Separator: DefaultSeparator,
	}
}

// Validate checks that this Codec is able to produce decodable commands.
func (c Codec) Validate() error {
	switch {
	case c.Separator == "":
		return fmt.Errorf("command separator is empty")
	case c.Key == "":
		return fmt.Errorf("command key is empty")
	case strings.Contains(c.Key, c.Separator):
		return fmt.Errorf("command key %q contains the separator %q", c.Key, c.Separator)
	default:
		return nil
	}
}

func (c Codec) checkField(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidField, kind)
	}
	if strings.Contains(value, c.Separator) {
		return fmt.Errorf("%w: %s %q contains the separator %q", ErrInvalidField, kind, value, c.Separator)
	}
	return nil
}

// Encode a command for the given command name, addressed to the target.
func (c Codec) Encode(name, target string) (string, error) {
	if err := c.checkField("command name", name); err != nil {
		return "", err
	}
	if err := c.checkField("target", target); err != nil {
		return "", err
	}

	return strings.Join([]string{c.Key, name, target}, c.Separator), nil
}

// Decode a text into a Command. The boolean is false if the text is not a command, which is not an error.
func (c Codec) Decode(text string) (cmd Command, ok bool) {
	fields := strings.Split(text, c.Separator)
	if len(fields) != 3 || fields[0] != c.Key {
		return
	}

	for _, field := range fields[1:] {
		if field == "" {
			return
		}
	}

	return Command{Name: fields[1], Target: fields[2]}, true
}
