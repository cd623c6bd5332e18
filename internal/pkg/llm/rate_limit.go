package llm

import (
	"golang.org/x/sync/semaphore"
)

var (
	TextWeight   = int64(5)
	TextSem      = semaphore.NewWeighted(TextWeight)
	VisionWeight = int64(3)
	VisionSem    = semaphore.NewWeighted(VisionWeight)
	EmbedWeight  = int64(50)
	EmbedSem     = semaphore.NewWeighted(EmbedWeight)
)
