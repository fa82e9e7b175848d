//go:build !windows

package discovery

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// LsofResolver asks lsof for the listening socket owner.
type LsofResolver struct{}

func (LsofResolver) ResolvePID(ctx context.Context, port int) (int, error) {
	path, err := exec.LookPath("lsof")
	if err != nil {
		return 0, fmt.Errorf("lsof not available: %w", err)
	}
	// #nosec G204 -- fixed binary, numeric port argument
	out, err := exec.CommandContext(ctx, path, "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-t").Output()
	if err != nil {
		var ee *exec.ExitError
		// lsof exits 1 when nothing matched.
		if errors.As(err, &ee) && ee.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("lsof port %d: %w", port, err)
	}
	return firstPID(out), nil
}

func firstPID(out []byte) int {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if pid, err := strconv.Atoi(strings.TrimSpace(sc.Text())); err == nil && pid > 0 {
			return pid
		}
	}
	return 0
}
