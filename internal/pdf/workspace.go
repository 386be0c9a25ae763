package pdf

import (
	"path/filepath"

	"github.com/yourusername/pdf-binder/internal/storage"
)

type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func fromStorage(ws storage.Workspace) workspace {
	return workspace{
		jobID:  ws.JobID,
		dir:    ws.Dir,
		inDir:  ws.InDir,
		outDir: ws.OutDir,
	}
}

func (s *Service) createWorkspace() (workspace, error) {
	ws, err := s.store.Create()
	if err != nil {
		return workspace{}, err
	}
	return fromStorage(ws), nil
}

func (s *Service) workspaceFor(jobID string) (workspace, error) {
	ws, err := s.store.Lookup(jobID)
	if err != nil {
		return workspace{}, err
	}
	return fromStorage(ws), nil
}
