package weaveports

import "context"

// FragmentStore persists the current fragment of each conversation.
// Fetch returns (nil, nil) when the conversation has no fragment yet.
// Save either starts a new fragment instance or replaces the current one.
type FragmentStore interface {
	Fetch(ctx context.Context, key string) (*Fragment, error)
	Save(ctx context.Context, key string, fragment *Fragment, newFragment bool) error
}

// FragmentArchive exposes earlier fragment instances for auditing.
// FetchInstance returns (nil, nil) when the instance does not exist.
type FragmentArchive interface {
	FetchInstance(ctx context.Context, key string, instance int) (*Fragment, error)
	Instances(ctx context.Context, key string) (int, error)
}
