package syncer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buger/goterm"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

const consoleHelp = `Commands:
  help          Show this message.
  close         Stop syncing and exit.
  resync        Wait for running transfers, then sync again.
  clock         Estimate the clock offset again.
  list:[l][r][i]
                List local (l) and/or remote (r) files. Include hashes with i.
  threads:n     Run n transfers at once, starting with the next round.
`

type commandKind int

const (
	cmdHelp commandKind = iota
	cmdClose
	cmdResync
	cmdClock
	cmdList
	cmdThreads
)

type command struct {
	kind commandKind

	// Set for list commands.
	local, remote, hashes bool

	// Set for threads commands.
	threads int
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	name, arg := line, ""
	if i := strings.Index(line, ":"); i >= 0 {
		name, arg = line[:i], line[i+1:]
	}

	switch name {
	case "help":
		return command{kind: cmdHelp}, nil
	case "close":
		return command{kind: cmdClose}, nil
	case "resync":
		return command{kind: cmdResync}, nil
	case "clock":
		return command{kind: cmdClock}, nil
	case "list":
		if arg == "" {
			arg = "lr"
		}
		cmd := command{kind: cmdList}
		for _, c := range arg {
			switch c {
			case 'l':
				cmd.local = true
			case 'r':
				cmd.remote = true
			case 'i':
				cmd.hashes = true
			default:
				return command{}, errors.NewFriendlyError("unknown list option %q", string(c))
			}
		}
		if !cmd.local && !cmd.remote {
			cmd.local, cmd.remote = true, true
		}
		return cmd, nil
	case "threads":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return command{}, errors.NewFriendlyError(
				"threads requires a positive number, e.g. threads:4")
		}
		return command{kind: cmdThreads, threads: n}, nil
	}
	return command{}, errors.NewFriendlyError("unknown command %q. Type help for a list of commands", line)
}

// RunConsole reads commands from `in` until the user closes the session,
// `in` is exhausted, or the context is cancelled.
func (s *Syncer) RunConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(out, "> ")
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		if strings.TrimSpace(line) == "" {
			fmt.Fprint(out, "> ")
			continue
		}

		cmd, err := parseCommand(line)
		if err != nil {
			fmt.Fprintln(out, goterm.Color(errors.GetPrintableMessage(err), goterm.RED))
			fmt.Fprint(out, "> ")
			continue
		}

		if cmd.kind == cmdClose {
			return nil
		}

		if err := s.runCommand(ctx, cmd, out); err != nil {
			fmt.Fprintln(out, goterm.Color(errors.GetPrintableMessage(err), goterm.RED))
		}
		fmt.Fprint(out, "> ")
	}
}

func (s *Syncer) runCommand(ctx context.Context, cmd command, out io.Writer) error {
	switch cmd.kind {
	case cmdHelp:
		fmt.Fprint(out, consoleHelp)
	case cmdResync:
		report, err := s.Resync(ctx)
		if err != nil {
			return err
		}
		PrintReport(out, report)
	case cmdClock:
		if err := s.SyncClock(); err != nil {
			return err
		}
		offset := s.Offset()
		fmt.Fprintf(out, "Clock offset: %s (error %s)\n", offset.Duration(),
			time.Duration(offset.ErrorMillis)*time.Millisecond)
	case cmdThreads:
		s.Resize(cmd.threads)
		fmt.Fprintf(out, "Will run %d transfers at once from the next sync.\n", cmd.threads)
	case cmdList:
		if cmd.local {
			records, err := s.ListLocal(cmd.hashes)
			if err != nil {
				return errors.WithContext(err, "list local files")
			}
			printRecords(out, "Local files", records, cmd.hashes)
		}
		if cmd.remote {
			records, err := s.ListRemote(cmd.hashes)
			if err != nil {
				return errors.WithContext(err, "list remote files")
			}
			printRecords(out, "Remote files", records, cmd.hashes)
		}
	}
	return nil
}

func printRecords(out io.Writer, title string, records []sync.FileRecord, withHashes bool) {
	fmt.Fprintln(out, goterm.Bold(fmt.Sprintf("%s (%d):", title, len(records))))
	for _, r := range records {
		if withHashes && r.HasMetadata() {
			modTime := time.Unix(0, r.LastModifiedMillis*int64(time.Millisecond)).UTC()
			fmt.Fprintf(out, "  %s\t%d\t%s\t%s\n", r.RelativePath, r.SizeBytes,
				modTime.Format(time.RFC3339), shortHash(r.ContentHash))
		} else {
			fmt.Fprintf(out, "  %s\t%d\n", r.RelativePath, r.SizeBytes)
		}
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

var operationColors = map[sync.Operation]int{
	sync.Upload:    goterm.GREEN,
	sync.Download:  goterm.BLUE,
	sync.NeedsInfo: goterm.YELLOW,
}

// PrintPlan writes the operation for every path in the plan.
func PrintPlan(out io.Writer, plan sync.Plan) {
	var paths []string
	for path := range plan.Operations {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		op := plan.Operations[path]
		opStr := fmt.Sprintf("%-10s", op)
		if color, ok := operationColors[op]; ok {
			opStr = goterm.Color(opStr, color)
		}
		fmt.Fprintf(out, "%s %s\n", opStr, path)
	}
	fmt.Fprintf(out, "%d to upload, %d to download, %d pending.\n",
		plan.Count(sync.Upload), plan.Count(sync.Download), len(plan.Pending))
}

// PrintReport writes a summary of a sync round.
func PrintReport(out io.Writer, report Report) {
	fmt.Fprintf(out, "Uploaded %d files, downloaded %d.\n", report.Uploaded, report.Downloaded)
	var failed []string
	for path := range report.Failed {
		failed = append(failed, path)
	}
	sort.Strings(failed)
	for _, path := range failed {
		fmt.Fprintln(out, goterm.Color(fmt.Sprintf("Failed to sync %s: %s",
			path, errors.GetPrintableMessage(report.Failed[path])), goterm.RED))
	}
	if len(report.Pending) != 0 {
		fmt.Fprintln(out, goterm.Color(fmt.Sprintf("%d files will be retried on the next sync.",
			len(report.Pending)), goterm.YELLOW))
	}
}
