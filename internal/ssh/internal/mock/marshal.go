package mock

import "golang.org/x/crypto/ssh"

// marshalExitStatus marshals the standard 'exit-status' message body to
// indicate to the caller the exit code of the executed process.
func marshalExitStatus(exitCode uint32) []byte {
	return ssh.Marshal(struct {
		Status uint32
	}{exitCode})
}

// unmarshalString decodes the single-string payload carried by 'exec' and
// 'subsystem' channel requests.
func unmarshalString(payload []byte) (string, error) {
	var msg struct {
		Value string
	}
	if err := ssh.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	return msg.Value, nil
}
