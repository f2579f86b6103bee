package publishing

import (
	"context"
	"fmt"
	"strings"
)

type Request struct {
	UserID          int64
	Platforms       []string
	ProfileRef      string
	QueueProfileRef string
	Caption         string
	FileName        string
	MimeType        string
	Data            []byte
}

type Result struct {
	Publisher string
	Platforms []string
	PostID    string
	Status    PostStatus
}

// Publisher is a publishing target. Queued publishers go through the
// scheduling service: their posts are rate limited and tracked as pending.
// Direct publishers post straight to a platform API.
type Publisher interface {
	Name() string
	Queued() bool
	Publish(ctx context.Context, req Request) (*Result, error)
}

// QueuePublisher publishes through the scheduling service.
type QueuePublisher struct {
	adapter *Adapter
}

func NewQueuePublisher(adapter *Adapter) *QueuePublisher {
	return &QueuePublisher{adapter: adapter}
}

func (p *QueuePublisher) Name() string { return "queue" }

func (p *QueuePublisher) Queued() bool { return true }

func (p *QueuePublisher) Publish(ctx context.Context, req Request) (*Result, error) {
	mediaURL, err := p.adapter.UploadMedia(ctx, req.Data, req.MimeType, req.FileName, req.Platforms)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	post, err := p.adapter.CreatePost(ctx, CreatePostRequest{
		Platforms:  req.Platforms,
		Caption:    req.Caption,
		MediaURL:   mediaURL,
		ProfileRef: req.ProfileRef,
	}, req.QueueProfileRef)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	return &Result{
		Publisher: p.Name(),
		Platforms: req.Platforms,
		PostID:    post.ID,
		Status:    post.Status,
	}, nil
}

// Dispatch is one publisher and the platforms it serves for a run.
type Dispatch struct {
	Publisher Publisher
	Platforms []string
}

// Registry selects a publisher per platform. Platforms without a dedicated
// publisher go to the default one.
type Registry struct {
	fallback Publisher
	byName   map[string]Publisher
}

func NewRegistry(fallback Publisher) *Registry {
	return &Registry{fallback: fallback, byName: map[string]Publisher{}}
}

func (r *Registry) Register(platform string, p Publisher) {
	r.byName[strings.ToLower(platform)] = p
}

func (r *Registry) For(platform string) Publisher {
	if p, ok := r.byName[strings.ToLower(platform)]; ok {
		return p
	}
	return r.fallback
}

// Plan groups platforms by publisher. Queued publishers come first so direct
// posts only happen once the tracked post exists.
func (r *Registry) Plan(platforms []string) []Dispatch {
	var queued, direct []Dispatch
	index := map[Publisher]int{}

	for _, platform := range platforms {
		platform = strings.ToLower(platform)
		p := r.For(platform)

		if i, ok := index[p]; ok {
			if p.Queued() {
				queued[i].Platforms = append(queued[i].Platforms, platform)
			} else {
				direct[i].Platforms = append(direct[i].Platforms, platform)
			}
			continue
		}

		if p.Queued() {
			index[p] = len(queued)
			queued = append(queued, Dispatch{Publisher: p, Platforms: []string{platform}})
		} else {
			index[p] = len(direct)
			direct = append(direct, Dispatch{Publisher: p, Platforms: []string{platform}})
		}
	}
	return append(queued, direct...)
}

// QueuedPlatforms returns the platforms that go through the scheduling service.
func (r *Registry) QueuedPlatforms(platforms []string) []string {
	var out []string
	for _, platform := range platforms {
		if r.For(platform).Queued() {
			out = append(out, strings.ToLower(platform))
		}
	}
	return out
}
