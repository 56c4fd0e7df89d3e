package overwrite

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// AuditFileName is the name of the audit file inside the overwrite directory.
const AuditFileName = "info.txt"

// AuditTimeLayout is the local wall-clock format of the overwrite time line.
const AuditTimeLayout = "2006-01-02 15:04:05"

const (
	timePrefix     = "Overwrite time: "
	identityPrefix = "Confirmed by: "
)

// ErrCorruptAudit is returned when an audit file does not have the expected lines.
var ErrCorruptAudit = errors.New("audit file is corrupt")

// Audit is the content of the audit file.
type Audit struct {
	Time     time.Time
	Identity string
}

// WriteAudit writes the two-line audit file into dirPath. The last line has
// no line terminator.
func WriteAudit(dirPath string, a Audit) error {
	path := filepath.Join(dirPath, AuditFileName)
	content := timePrefix + a.Time.Local().Format(AuditTimeLayout) + "\n" +
		identityPrefix + a.Identity
	if err := os.WriteFile(path, []byte(content), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write audit file %s: %w", path, err)
	}
	return nil
}

// ReadAudit parses the audit file in dirPath. A missing file is returned as is,
// so os.IsNotExist works on the result.
func ReadAudit(dirPath string) (Audit, error) {
	path := filepath.Join(dirPath, AuditFileName)
	f, err := os.Open(path)
	if err != nil {
		return Audit{}, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Audit{}, fmt.Errorf("could not read audit file %s: %w", path, err)
	}
	if len(lines) != 2 || !strings.HasPrefix(lines[0], timePrefix) || !strings.HasPrefix(lines[1], identityPrefix) {
		return Audit{}, fmt.Errorf("%w: %s", ErrCorruptAudit, path)
	}

	ts, err := time.ParseInLocation(AuditTimeLayout, strings.TrimPrefix(lines[0], timePrefix), time.Local)
	if err != nil {
		return Audit{}, fmt.Errorf("%w: %s: %v", ErrCorruptAudit, path, err)
	}
	return Audit{Time: ts, Identity: strings.TrimPrefix(lines[1], identityPrefix)}, nil
}
