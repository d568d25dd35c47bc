package pwmbox

const (
	StartChar byte = '^'
	EndChar   byte = '\n'
	Separator      = ","
)

// Direction of a line, first field after StartChar.
const (
	Request  byte = '?' // host asks for something
	Response byte = '!' // device answers, or host sets something
)

// Command is the second field of every line.
type Command byte

const (
	CmdHandshake Command = '@'
	CmdInfo      Command = 'i'
	CmdPassword  Command = 'c'
	CmdSlots     Command = 's'
	CmdPWM       Command = 'p'
	CmdNumSlots  Command = 'n'
	CmdDefault   Command = 'd'
)

// NoValue is sent by the device in place of a
// negative default slot or first password digit.
const NoValue = "n"

// deviceErrPrefix starts error replies (^!,ERR1 ... ^!,ERR3).
const deviceErrPrefix = "ERR"

const (
	NumChannels       = 8
	MaxChannelNameLen = 19
	MaxPresetNameLen  = 11
	PasswordLen       = 3
)

// Channel value ranges.
const (
	MinFrequency = 0
	MaxFrequency = 400
	MinDuty      = 0
	MaxDuty      = 100
	MinPhase     = -50
	MaxPhase     = 50
)

// frequencyScale converts Hz to the integer carried on the wire.
const frequencyScale = 10

func (c Command) String() string {
	switch c {
	case CmdHandshake:
		return "handshake"
	case CmdInfo:
		return "info"
	case CmdPassword:
		return "password"
	case CmdSlots:
		return "slot"
	case CmdPWM:
		return "pwm"
	case CmdNumSlots:
		return "slot count"
	case CmdDefault:
		return "default slot"
	}
	return "command(" + string(rune(c)) + ")"
}
