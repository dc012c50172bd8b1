package diagnostics

import "path"

// Manifest is an ordered list of remote file paths to download. Paths that
// don't exist on a given host are expected; not every host runs every
// application server layout.
type Manifest []string

// ThreadDumpArchive is where the collected thread dumps are zipped to.
const ThreadDumpArchive = "/tmp/threaddumps.zip"

// DefaultManifest covers the console, server, GC and audit logs of the
// WildFly and JBoss layouts in use, plus the thread dump archive.
var DefaultManifest = Manifest{
	"/var/log/wildfly/console.log",
	"/var/log/jboss/console.log",
	"/var/log/jboss-as/console.log",
	"/opt/jboss/standalone/log/server.log",
	"/opt/wildfly/standalone/log/server.log",
	"/opt/jboss/standalone/log/gc.log",
	"/opt/wildfly/standalone/log/gc.log",
	"/opt/wildfly/standalone/logs/service-audit.log",
	"/opt/jboss/standalone/logs/service-audit.log",
	ThreadDumpArchive,
}

// LocalName is the file name a remote path is saved under for 'host'.
// Paths sharing a base name map to the same local name, so a later one
// overwrites an earlier one.
func LocalName(host, remote string) string {
	return host + "_" + path.Base(remote)
}
