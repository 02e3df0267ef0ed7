package perforce

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"depotci/internal/config"
	"depotci/internal/executor"
	"depotci/internal/scm"
)

// Server messages that signal a benign no-op. They are only ever matched
// here; callers see SyncOutcome and ReconcileOutcome values.
const (
	msgUpToDate          = "file(s) up-to-date"
	msgNothingReconciled = "no file(s) to reconcile"
	msgNotInView         = "not in client view"
)

var (
	changeCreated   = regexp.MustCompile(`Change (\d+) created`)
	changeSubmitted = regexp.MustCompile(`(?:Change (\d+) submitted|renamed change (\d+) and submitted)`)
)

// CLI talks to the depot server through the p4 command-line client. Every
// invocation passes the port, user and (once chosen) client explicitly so
// the host's P4CONFIG and environment do not leak in.
type CLI struct {
	runner   executor.Runner
	program  string
	port     string
	user     string
	password string
	tls      bool
	client   string
	log      *logrus.Entry
}

// NewCLI returns an adapter for the server described by conn.
func NewCLI(runner executor.Runner, conn config.ConnectionConfig, log *logrus.Entry) *CLI {
	return &CLI{
		runner:   runner,
		program:  "p4",
		port:     conn.Port(),
		user:     conn.Username,
		password: conn.Password,
		tls:      conn.ServerTLS,
		log:      log,
	}
}

func (p *CLI) globalArgs(args ...string) []string {
	full := []string{"-p", p.port, "-u", p.user}
	if p.client != "" {
		full = append(full, "-c", p.client)
	}
	return append(full, args...)
}

func (p *CLI) run(ctx context.Context, stdin string, args ...string) (*executor.Result, error) {
	res, err := p.runner.Run(ctx, executor.Command{
		Program: p.program,
		Args:    p.globalArgs(args...),
		Stdin:   stdin,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "p4 %s", strings.Join(args, " "))
	}
	return res, nil
}

// runChecked fails with a *DepotError on a non-zero exit.
func (p *CLI) runChecked(ctx context.Context, op, stdin string, args ...string) (*executor.Result, error) {
	res, err := p.run(ctx, stdin, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &DepotError{Op: op, Detail: detail(res)}
	}
	return res, nil
}

func detail(res *executor.Result) string {
	if d := strings.TrimSpace(res.Combined()); d != "" {
		return d
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

// Connect checks that the server answers.
func (p *CLI) Connect(ctx context.Context) error {
	_, err := p.runChecked(ctx, "info", "", "info", "-s")
	return err
}

// Disconnect is a no-op: the command-line client holds no socket between
// calls.
func (p *CLI) Disconnect(context.Context) error {
	return nil
}

// Login obtains a ticket, feeding the password on stdin.
func (p *CLI) Login(ctx context.Context) error {
	_, err := p.runChecked(ctx, "login", p.password+"\n", "login")
	return err
}

func (p *CLI) Logout(ctx context.Context) error {
	_, err := p.runChecked(ctx, "logout", "", "logout")
	return err
}

// TrustReset drops the stored fingerprint. Plain-text ports have no
// fingerprint, so the call is skipped for them.
func (p *CLI) TrustReset(ctx context.Context) error {
	if !p.tls {
		p.log.Debug("Skipping trust reset on non-ssl port")
		return nil
	}
	_, err := p.runChecked(ctx, "trust", "", "trust", "-d")
	return err
}

// TrustAccept stores the server's current fingerprint.
func (p *CLI) TrustAccept(ctx context.Context) error {
	if !p.tls {
		p.log.Debug("Skipping trust accept on non-ssl port")
		return nil
	}
	_, err := p.runChecked(ctx, "trust", "", "trust", "-y", "-f")
	return err
}

// FetchClient returns the spec of workspace name, or the server's template
// for it when it does not exist yet.
func (p *CLI) FetchClient(ctx context.Context, name string) (ClientSpec, error) {
	res, err := p.runChecked(ctx, "client", "", "-ztag", "client", "-o", name)
	if err != nil {
		return nil, err
	}
	records := parseTagged(res.Stdout)
	if len(records) == 0 {
		return nil, &DepotError{Op: "client", Detail: "empty client spec for " + name}
	}
	return ClientSpec(records[0]), nil
}

func (p *CLI) SaveClient(ctx context.Context, spec ClientSpec) error {
	_, err := p.runChecked(ctx, "client", renderForm(spec), "client", "-i")
	return err
}

func (p *CLI) UseClient(name string) {
	p.client = name
}

func (p *CLI) Sync(ctx context.Context, req SyncRequest) (SyncOutcome, error) {
	args := []string{"sync"}
	if req.DryRun {
		args = append(args, "-n")
	}
	if req.Force {
		args = append(args, "-f")
	}
	if req.Target != "" {
		args = append(args, req.Target)
	}

	res, err := p.run(ctx, "", args...)
	if err != nil {
		return SyncNeedsAction, err
	}
	if containsFold(res.Combined(), msgUpToDate) {
		return SyncUpToDate, nil
	}
	if res.ExitCode != 0 {
		return SyncNeedsAction, &DepotError{Op: "sync", Detail: detail(res)}
	}
	return SyncNeedsAction, nil
}

func (p *CLI) Reconcile(ctx context.Context, dryRun bool, path string) (ReconcileOutcome, error) {
	args := []string{"reconcile"}
	if dryRun {
		args = append(args, "-n")
	}
	args = append(args, path)

	res, err := p.run(ctx, "", args...)
	if err != nil {
		return Reconciled, err
	}
	out := res.Combined()
	switch {
	case containsFold(out, msgNothingReconciled):
		return NothingToReconcile, nil
	case containsFold(out, msgNotInView), res.ExitCode != 0:
		return Reconciled, &DepotError{Op: "reconcile", Detail: detail(res)}
	}
	return Reconciled, nil
}

// Submit moves exactly files into a new numbered change and submits it.
func (p *CLI) Submit(ctx context.Context, message string, files []string) (string, error) {
	if len(files) == 0 {
		return "", &DepotError{Op: "submit", Detail: "no files given"}
	}

	res, err := p.runChecked(ctx, "fstat", "", append([]string{"-ztag", "fstat", "-T", "depotFile"}, files...)...)
	if err != nil {
		return "", err
	}
	var depotFiles []string
	for _, rec := range parseTagged(res.Stdout) {
		if f := rec["depotFile"]; f != "" {
			depotFiles = append(depotFiles, f)
		}
	}
	if len(depotFiles) != len(files) {
		return "", &DepotError{Op: "fstat", Detail: fmt.Sprintf("resolved %d of %d files to depot paths", len(depotFiles), len(files))}
	}

	res, err = p.runChecked(ctx, "change", renderChange(message, depotFiles), "change", "-i")
	if err != nil {
		return "", err
	}
	created := changeCreated.FindStringSubmatch(res.Combined())
	if created == nil {
		return "", &DepotError{Op: "change", Detail: detail(res)}
	}

	res, err = p.runChecked(ctx, "submit", "", "submit", "-c", created[1])
	if err != nil {
		return "", err
	}
	if m := changeSubmitted.FindStringSubmatch(res.Combined()); m != nil {
		if m[2] != "" {
			return m[2], nil
		}
		return m[1], nil
	}
	return created[1], nil
}

func (p *CLI) Changes(ctx context.Context, path string, max int) ([]scm.Change, error) {
	args := []string{"-ztag", "changes", "-l"}
	if max > 0 {
		args = append(args, "-m", strconv.Itoa(max))
	}
	args = append(args, path)

	res, err := p.runChecked(ctx, "changes", "", args...)
	if err != nil {
		return nil, err
	}

	var changes []scm.Change
	for _, rec := range parseTagged(res.Stdout) {
		if rec["change"] == "" {
			continue
		}
		change := scm.Change{
			ID:          rec["change"],
			User:        rec["user"],
			Description: strings.TrimSpace(rec["desc"]),
		}
		if ts, err := strconv.ParseInt(rec["time"], 10, 64); err == nil {
			change.Time = time.Unix(ts, 0)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// ServerLocation reads the server's zone from the serverDate field of p4
// info, e.g. "2024/03/09 14:05:07 -0800 PST".
func (p *CLI) ServerLocation(ctx context.Context) (*time.Location, error) {
	res, err := p.runChecked(ctx, "info", "", "-ztag", "info", "-s")
	if err != nil {
		return nil, err
	}
	for _, rec := range parseTagged(res.Stdout) {
		if date := rec["serverDate"]; date != "" {
			return parseServerZone(date)
		}
	}
	return nil, &DepotError{Op: "info", Detail: "server reported no serverDate"}
}

func parseServerZone(date string) (*time.Location, error) {
	fields := strings.Fields(date)
	if len(fields) < 3 {
		return nil, errors.Errorf("unexpected serverDate %q", date)
	}
	t, err := time.Parse("2006/01/02 15:04:05 -0700", strings.Join(fields[:3], " "))
	if err != nil {
		return nil, errors.Wrapf(err, "parse serverDate %q", date)
	}
	name := fields[2]
	if len(fields) > 3 {
		name = fields[3]
	}
	_, offset := t.Zone()
	return time.FixedZone(name, offset), nil
}
