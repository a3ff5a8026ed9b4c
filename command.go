package ultralight

// Command is a STOMP command and the first line in a STOMP frame.
type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandDisconnect  Command = "DISCONNECT"
	CommandError       Command = "ERROR"
	CommandMessage     Command = "MESSAGE"
	CommandReceipt     Command = "RECEIPT"
	CommandSend        Command = "SEND"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
)

// Known returns true if c is part of the supported command vocabulary.
func (c Command) Known() bool {
	switch c {
	case CommandConnect, CommandConnected, CommandDisconnect, CommandError, CommandMessage,
		CommandReceipt, CommandSend, CommandSubscribe, CommandUnsubscribe:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (c Command) String() string {
	return string(c)
}
