package discovery

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const tcpListen = "0A"

// ErrOwnerHidden is returned when a port has a listening socket but no
// readable process holds it.
var ErrOwnerHidden = errors.New("listening socket owner is not visible")

// ProcNetResolver maps a port to a PID using /proc/net/tcp{,6} and the
// socket links under /proc/<pid>/fd. Only processes whose fd directory is
// readable are found, which on Linux means processes of the same user.
type ProcNetResolver struct {
	Root string
}

func (r ProcNetResolver) ResolvePID(ctx context.Context, port int) (int, error) {
	root := r.Root
	if root == "" {
		root = "/proc"
	}
	inodes := make(map[string]bool)
	read := 0
	for _, name := range []string{"tcp", "tcp6"} {
		f, err := os.Open(filepath.Join(root, "net", name))
		if err != nil {
			continue
		}
		err = listeningInodes(f, port, inodes)
		_ = f.Close()
		if err != nil {
			return 0, err
		}
		read++
	}
	if read == 0 {
		return 0, errors.New("no readable socket table under " + root)
	}
	if len(inodes) == 0 {
		return 0, nil
	}
	return socketOwner(ctx, root, inodes)
}

// listeningInodes adds the inode of every LISTEN socket bound to port.
func listeningInodes(r io.Reader, port int, out map[string]bool) error {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 10 || fields[3] != tcpListen {
			continue
		}
		_, hexPort, ok := strings.Cut(fields[1], ":")
		if !ok {
			continue
		}
		p, err := strconv.ParseUint(hexPort, 16, 16)
		if err != nil || int(p) != port {
			continue
		}
		if fields[9] != "0" {
			out[fields[9]] = true
		}
	}
	return sc.Err()
}

func socketOwner(ctx context.Context, root string, inodes map[string]bool) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		fdDir := filepath.Join(root, e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			// Other users' processes are unreadable.
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if inode, ok := socketInode(link); ok && inodes[inode] {
				return pid, nil
			}
		}
	}
	return 0, ErrOwnerHidden
}

// socketInode parses "socket:[12345]".
func socketInode(link string) (string, bool) {
	rest, ok := strings.CutPrefix(link, "socket:[")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, "]")
}
