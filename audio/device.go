package audio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// FindDevice returns the device with the given name, or nil for "" (system default).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: device %q not found", ErrDeviceUnavailable, name)
}

// SelectDevice presents an interactive device picker on the terminal.
// The first entry is the system default, returned as a nil device.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}

	names := make([]string, 0, len(devices)+1)
	names = append(names, "system default")
	for _, d := range devices {
		names = append(names, d.Name)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	render := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Select microphone (↑/↓, Enter to confirm, q to cancel):\r\n\r\n")
		for i, name := range names {
			tag := ""
			if IsBluetooth(name) {
				tag = " \x1b[33m[⚠ lower audio quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s%s\x1b[0m\r\n", name, tag)
			} else {
				fmt.Printf("    %s%s\r\n", name, tag)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				if cursor == 0 {
					return nil, nil
				}
				return &devices[cursor-1], nil
			case 3, 'q': // Ctrl+C
				fmt.Print("\r\n")
				return nil, fmt.Errorf("device selection cancelled")
			case 'j':
				if cursor < len(names)-1 {
					cursor++
				}
			case 'k':
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				if cursor > 0 {
					cursor--
				}
			case 'B':
				if cursor < len(names)-1 {
					cursor++
				}
			}
		}

		fmt.Printf("\x1b[%dA", len(names)+2)
		render()
	}
}
