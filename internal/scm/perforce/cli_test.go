package perforce

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotci/internal/config"
	"depotci/internal/executor"
)

// scriptedRunner answers p4 invocations by the first argument after the
// global flags.
type scriptedRunner struct {
	replies  map[string]*executor.Result
	commands []executor.Command
}

func (r *scriptedRunner) Run(_ context.Context, cmd executor.Command) (*executor.Result, error) {
	r.commands = append(r.commands, cmd)
	args := strings.Join(cmd.Args, " ")
	for key, res := range r.replies {
		if strings.Contains(args, key) {
			return res, nil
		}
	}
	return &executor.Result{}, nil
}

func (r *scriptedRunner) last() executor.Command {
	return r.commands[len(r.commands)-1]
}

func newTestCLI(replies map[string]*executor.Result) (*CLI, *scriptedRunner) {
	runner := &scriptedRunner{replies: replies}
	conn := config.ConnectionConfig{
		Username:   "builder",
		Password:   "s3cret",
		ServerHost: "p4.example.com",
		ServerPort: 1666,
		ServerTLS:  true,
	}
	return NewCLI(runner, conn, nullLog()), runner
}

func TestCLIGlobalArgs(t *testing.T) {
	cli, runner := newTestCLI(nil)
	ctx := context.Background()

	require.NoError(t, cli.Connect(ctx))
	assert.Equal(t, "p4", runner.last().Program)
	assert.Equal(t, []string{"-p", "ssl:p4.example.com:1666", "-u", "builder", "info", "-s"}, runner.last().Args)

	cli.UseClient("BUILD-TOOL-host")
	require.NoError(t, cli.Logout(ctx))
	assert.Equal(t, []string{"-p", "ssl:p4.example.com:1666", "-u", "builder", "-c", "BUILD-TOOL-host", "logout"}, runner.last().Args)
}

func TestCLILoginSendsPasswordOnStdin(t *testing.T) {
	cli, runner := newTestCLI(nil)

	require.NoError(t, cli.Login(context.Background()))
	assert.Equal(t, "s3cret\n", runner.last().Stdin)
	assert.NotContains(t, runner.last().Args, "s3cret")
}

func TestCLILoginFailure(t *testing.T) {
	cli, _ := newTestCLI(map[string]*executor.Result{
		"login": {Stderr: "Password invalid.", ExitCode: 1},
	})

	err := cli.Login(context.Background())

	var depotErr *DepotError
	require.True(t, errors.As(err, &depotErr))
	assert.Equal(t, "p4 login: Password invalid.", depotErr.Error())
}

func TestCLITrustSkippedWithoutTLS(t *testing.T) {
	runner := &scriptedRunner{}
	cli := NewCLI(runner, config.ConnectionConfig{Username: "u", ServerHost: "h", ServerPort: 1666}, nullLog())

	require.NoError(t, cli.TrustReset(context.Background()))
	require.NoError(t, cli.TrustAccept(context.Background()))
	assert.Empty(t, runner.commands)
}

func TestCLITrust(t *testing.T) {
	cli, runner := newTestCLI(nil)
	ctx := context.Background()

	require.NoError(t, cli.TrustReset(ctx))
	assert.Equal(t, []string{"trust", "-d"}, runner.last().Args[4:])
	require.NoError(t, cli.TrustAccept(ctx))
	assert.Equal(t, []string{"trust", "-y", "-f"}, runner.last().Args[4:])
}

func TestCLISyncOutcomes(t *testing.T) {
	tests := map[string]struct {
		result  *executor.Result
		want    SyncOutcome
		wantErr bool
	}{
		"up to date": {
			result: &executor.Result{Stderr: "File(s) up-to-date.", ExitCode: 1},
			want:   SyncUpToDate,
		},
		"files to transfer": {
			result: &executor.Result{Stdout: "//game/main/a.txt#3 - updating /ws/a.txt"},
			want:   SyncNeedsAction,
		},
		"error": {
			result:  &executor.Result{Stderr: "//game/main/... - no such file(s).", ExitCode: 1},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cli, runner := newTestCLI(map[string]*executor.Result{"sync": tc.result})

			got, err := cli.Sync(context.Background(), SyncRequest{DryRun: true, Target: "//game/main/...@5"})

			assert.Equal(t, []string{"sync", "-n", "//game/main/...@5"}, runner.last().Args[4:])
			if tc.wantErr {
				var depotErr *DepotError
				assert.True(t, errors.As(err, &depotErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCLISyncForceLatest(t *testing.T) {
	cli, runner := newTestCLI(nil)

	_, err := cli.Sync(context.Background(), SyncRequest{Force: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"sync", "-f"}, runner.last().Args[4:])
}

func TestCLIReconcileOutcomes(t *testing.T) {
	tests := map[string]struct {
		result  *executor.Result
		want    ReconcileOutcome
		wantErr bool
	}{
		"unchanged": {
			result: &executor.Result{Stderr: "/ws/a.txt - no file(s) to reconcile.", ExitCode: 1},
			want:   NothingToReconcile,
		},
		"changed": {
			result: &executor.Result{Stdout: "//game/main/a.txt#3 - opened for edit"},
			want:   Reconciled,
		},
		"not in view": {
			result:  &executor.Result{Stderr: "/tmp/a.txt - file(s) not in client view."},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cli, _ := newTestCLI(map[string]*executor.Result{"reconcile": tc.result})

			got, err := cli.Reconcile(context.Background(), true, "/ws/a.txt")

			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCLIFetchAndSaveClient(t *testing.T) {
	cli, runner := newTestCLI(map[string]*executor.Result{
		"client -o": {Stdout: "... Client ws\n... Owner builder\n... Root /old\n... Options noallwrite\n... Description Created by builder.\n\n"},
	})
	ctx := context.Background()

	spec, err := cli.FetchClient(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, "/old", spec[FieldRoot])
	assert.Equal(t, []string{"-ztag", "client", "-o", "ws"}, runner.last().Args[4:])

	spec[FieldRoot] = "/ws"
	spec[FieldStream] = "//game/main"
	require.NoError(t, cli.SaveClient(ctx, spec))
	assert.Equal(t, []string{"client", "-i"}, runner.last().Args[4:])
	assert.Contains(t, runner.last().Stdin, "Root:\t/ws\n")
	assert.Contains(t, runner.last().Stdin, "Stream:\t//game/main\n")
}

func TestCLISubmit(t *testing.T) {
	cli, runner := newTestCLI(map[string]*executor.Result{
		"fstat":     {Stdout: "... depotFile //game/main/a.txt\n\n... depotFile //game/main/b.txt\n\n"},
		"change -i": {Stdout: "Change 120 created with 2 open file(s)."},
		"submit -c": {Stdout: "Submitting change 120.\nChange 120 renamed change 123 and submitted."},
	})

	change, err := cli.Submit(context.Background(), "nightly", []string{"/ws/a.txt", "/ws/b.txt"})

	require.NoError(t, err)
	assert.Equal(t, "123", change)
	require.Len(t, runner.commands, 3)
	form := runner.commands[1].Stdin
	assert.Contains(t, form, "Description:\n\tnightly\n")
	assert.Contains(t, form, "Files:\n\t//game/main/a.txt\n\t//game/main/b.txt\n")
	assert.Equal(t, []string{"submit", "-c", "120"}, runner.last().Args[4:])
}

func TestCLIChanges(t *testing.T) {
	cli, runner := newTestCLI(map[string]*executor.Result{
		"changes": {Stdout: "... change 12\n... time 1700000000\n... user ana\n... desc fix build\nsecond line\n\n... change 11\n... time 1690000000\n... user bo\n... desc init\n\n"},
	})

	changes, err := cli.Changes(context.Background(), "//game/main/...#have", 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"-ztag", "changes", "-l", "-m", "1", "//game/main/...#have"}, runner.last().Args[4:])
	require.Len(t, changes, 2)
	assert.Equal(t, "12", changes[0].ID)
	assert.Equal(t, "ana", changes[0].User)
	assert.Equal(t, "fix build\nsecond line", changes[0].Description)
	assert.Equal(t, int64(1700000000), changes[0].Time.Unix())
}

func TestCLIServerLocation(t *testing.T) {
	cli, runner := newTestCLI(map[string]*executor.Result{
		"info": {Stdout: "... userName builder\n... serverDate 2024/03/09 14:05:07 -0800 PST\n... serverVersion P4D/LINUX26X86_64/2023.2\n\n"},
	})

	loc, err := cli.ServerLocation(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"-ztag", "info", "-s"}, runner.last().Args[4:])
	name, offset := time.Date(2024, 3, 9, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, "PST", name)
	assert.Equal(t, -8*3600, offset)
}

func TestCLIServerLocationMissingDate(t *testing.T) {
	cli, _ := newTestCLI(map[string]*executor.Result{
		"info": {Stdout: "... userName builder\n\n"},
	})

	_, err := cli.ServerLocation(context.Background())

	var depotErr *DepotError
	assert.True(t, errors.As(err, &depotErr))
}
