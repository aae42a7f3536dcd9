package entity

import "path/filepath"

// OutputDir is the per-job directory under the output root. Keeping every job in
// its own directory keeps file names from colliding across workers.
func OutputDir(root, jobID string) string {
	return filepath.Join(root, jobID)
}

// OutputPath is <root>/<job id>/<source stem>.<format>.
func OutputPath(root string, job *Job, f Format) string {
	name := job.Filename
	if name == "" {
		name = job.SourcePath
	}
	return filepath.Join(OutputDir(root, job.ID), Stem(name)+f.Ext())
}
