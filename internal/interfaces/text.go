package interfaces

import "context"

// TextGenerator produces raw model text for a system and user prompt
type TextGenerator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// VisionClassifier names the most salient subject of an image
type VisionClassifier interface {
	ClassifySubject(ctx context.Context, imageURL, instruction string) (string, error)
}
