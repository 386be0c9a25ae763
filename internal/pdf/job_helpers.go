package pdf

import "path/filepath"

type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
	rotation     int
}

func toJobFiles(stored []storedFile) []JobFile {
	files := make([]JobFile, len(stored))
	for i, sf := range stored {
		files[i] = JobFile{
			StoredName:   filepath.Base(sf.path),
			OriginalName: sf.originalName,
			Size:         sf.size,
			Pages:        sf.pages,
			Rotation:     sf.rotation,
		}
	}
	return files
}

func storedFilesFromManifest(ws workspace, manifest *JobManifest) []storedFile {
	if manifest == nil {
		return nil
	}
	stored := make([]storedFile, len(manifest.Files))
	for i, f := range manifest.Files {
		stored[i] = storedFile{
			path:         filepath.Join(ws.inDir, f.StoredName),
			originalName: f.OriginalName,
			size:         f.Size,
			pages:        f.Pages,
			rotation:     f.Rotation,
		}
	}
	return stored
}
