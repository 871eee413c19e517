package handler

const (
	submitPath   = "/api/v1/extract-audio"
	statusPath   = "/api/v1/status/"
	downloadPath = "/api/v1/download/"
)

func statusURL(jobID string) string   { return statusPath + jobID }
func downloadURL(jobID string) string { return downloadPath + jobID }
