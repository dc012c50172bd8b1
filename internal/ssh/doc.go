// ssh implements a facade over the 'x/crypto/ssh' and 'pkg/sftp' packages,
// simplifying the following workflows:
//   - private key loading and ED25519 key generation
//   - SSH client construction, with pinned or known_hosts host key checks
//   - remote command execution with captured output and exit status
//   - remote file existence checks and downloads over SFTP
//   - waiting for a host's SSH port to accept connections
//
// NOTE: ALL errors returned by this package will be wrapped with well-known (
// 'errors.Is(...') errors.
package ssh
