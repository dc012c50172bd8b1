package diagnostics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

const (
	defaultServiceUser = "jboss"
	dumpPrefix         = "/tmp/threaddump_"
)

// installCommands prepare the host for dump collection.
var installCommands = []string{
	"sudo yum -y install java-1.8.0-openjdk-devel",
	"sudo yum -y install zip",
}

const findJavaCommand = "pgrep -f java | head -1"

// asUser runs 'cmd' through '/bin/sh' as 'user', the account owning the JVM.
// Only that account may attach to the JVM to take dumps.
func asUser(user, cmd string) string {
	return "sudo su -c " + shellquote.Join(cmd) + " -s /bin/sh " + shellquote.Join(user)
}

func heapHistogramCommand(user string, pid int) string {
	return asUser(user, fmt.Sprintf("jmap -histo %d > %smem_usage.txt", pid, dumpPrefix))
}

func threadDumpCommand(user string, pid, n int) string {
	return asUser(user, fmt.Sprintf("jstack %d > %s%d.txt", pid, dumpPrefix, n))
}

var archiveCommand = fmt.Sprintf(
	"sudo find /tmp -name %s 2>/dev/null | sudo zip %s -@",
	shellquote.Join(strings.TrimPrefix(dumpPrefix, "/tmp/")+"*"),
	ThreadDumpArchive,
)

// parsePID reads the first line of 'pgrep' output.
func parsePID(stdout string) (int, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(stdout), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoJavaProcess, line)
	}
	return pid, nil
}
