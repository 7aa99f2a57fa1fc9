package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/partnerops/draftforge/pkg/jobledger"
	"github.com/partnerops/draftforge/pkg/runartifact"
)

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show logs for a job",
	Long: `Show logs for a job.

--source selects the file: "parallel" for the coordinator log
(default) or "w<N>" for worker N's log.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsLogs,
}

func init() {
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsLogsCmd.Flags().String("source", "parallel", "Log source: parallel or w<N>")
	jobsLogsCmd.Flags().Int("tail", 200, "Show last N lines (0 = no tail)")
	jobsLogsCmd.Flags().Bool("follow", false, "Follow log output")
}

var logSourcePattern = regexp.MustCompile(`^w([0-9]+)$`)

func runJobsLogs(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	tailN, _ := cmd.Flags().GetInt("tail")
	if tailN < 0 {
		tailN = 0
	}
	follow, _ := cmd.Flags().GetBool("follow")

	env, err := loadEnv(cmd.Context())
	if err != nil {
		return err
	}

	job, err := resolveJob(env.ledger, args[0])
	if err != nil {
		return err
	}

	path, err := jobLogPath(env, job, source)
	if err != nil {
		return err
	}

	if follow {
		return followLog(path)
	}
	return printLogTail(path, tailN)
}

func jobLogPath(env *appEnv, job *jobledger.Job, source string) (string, error) {
	if source == "" || source == "parallel" {
		if job.ParallelLogPath == "" {
			return "", fmt.Errorf("job has no coordinator log recorded")
		}
		return job.ParallelLogPath, nil
	}

	m := logSourcePattern.FindStringSubmatch(source)
	if m == nil {
		return "", fmt.Errorf("invalid --source %q (expected parallel or w<N>)", source)
	}
	workerID, _ := strconv.Atoi(m[1])

	stamp, ok := env.resolver.FindRunStamp(job)
	if !ok {
		return "", fmt.Errorf("no run recorded for job %s", job.JobID)
	}
	logDir := job.WorkerLogDir
	if logDir == "" {
		logDir = env.cfg.Paths.LogDir
	}
	return runartifact.WorkerLogPath(logDir, stamp, workerID), nil
}

func printLogTail(path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err := io.Copy(os.Stdout, f)
		return err
	}

	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]string, 0, n)

	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

func followLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		_, _ = fmt.Fprintln(os.Stdout, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// Poll for new content.
	for {
		pos, _ := f.Seek(0, io.SeekCurrent)
		st, err := f.Stat()
		if err != nil {
			return err
		}
		if st.Size() > pos {
			scanner = bufio.NewScanner(f)
			for scanner.Scan() {
				_, _ = fmt.Fprintln(os.Stdout, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			continue
		}
		time.Sleep(250 * time.Millisecond)
	}
}
