package perforce

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"depotci/internal/errs"
)

// ClientOptions is the Options value applied to every managed workspace.
const ClientOptions = "rmdir allwrite"

// Workspace is the desired definition of a client.
type Workspace struct {
	Name   string
	Stream string
	Root   string
}

// WorkspaceManager makes the server-side client and the local root match a
// Workspace.
type WorkspaceManager struct {
	depot Depot
	fs    afero.Fs
	log   *logrus.Entry
}

func NewWorkspaceManager(depot Depot, fs afero.Fs, log *logrus.Entry) *WorkspaceManager {
	return &WorkspaceManager{depot: depot, fs: fs, log: log}
}

// Ensure creates or updates the client and its root directory. The client spec is
// only saved when it differs from ws, so re-applying is free of mutations.
func (m *WorkspaceManager) Ensure(ctx context.Context, conn *Connection, ws Workspace) error {
	if conn.State() != Authenticated {
		return errs.New(errs.CodeAuthentication, "workspace %s: connection is %s, not authenticated", ws.Name, conn.State())
	}

	spec, err := m.depot.FetchClient(ctx, ws.Name)
	if err != nil {
		return errs.Wrap(errs.CodeConfiguration, err, "fetch workspace %s", ws.Name)
	}

	log := m.log.WithField("client", ws.Name)
	if spec[FieldStream] == ws.Stream && spec[FieldRoot] == ws.Root && spec[FieldOptions] == ClientOptions {
		log.Debug("Workspace already up to date")
	} else {
		if spec == nil {
			spec = ClientSpec{}
		}
		spec[FieldClient] = ws.Name
		spec[FieldStream] = ws.Stream
		spec[FieldRoot] = ws.Root
		spec[FieldOptions] = ClientOptions
		if err := m.depot.SaveClient(ctx, spec); err != nil {
			return errs.Wrap(errs.CodeConfiguration, err, "save workspace %s", ws.Name)
		}
		log.WithFields(logrus.Fields{"stream": ws.Stream, "root": ws.Root}).Info("Workspace saved")
	}

	m.depot.UseClient(ws.Name)
	if err := m.fs.MkdirAll(ws.Root, 0o755); err != nil {
		return errs.Wrap(errs.CodeConfiguration, err, "create workspace root %s", ws.Root)
	}
	return nil
}
