package usecase

import (
	"context"
	"fmt"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// stagePayload is the fingerprinted input of a stage. It holds exactly what the producer
// consumes, so identical content yields the same cache key across candidates and runs.
func stagePayload(stage domain.Stage, item domain.WorkItem, options map[string]string) domain.Payload {
	c := item.Candidate
	payload := domain.Payload{"options": options}

	switch stage {
	case domain.StageScript:
		payload["title"] = c.Title
		payload["body"] = c.Body
		payload["category"] = c.Category
	case domain.StageImage:
		payload["title"] = c.Title
		payload["category"] = c.Category
	case domain.StageNarration:
		payload["script"] = domain.Ref(item.Artifacts[domain.StageScript])
	case domain.StageCompose:
		payload["script"] = domain.Ref(item.Artifacts[domain.StageScript])
		payload["image"] = domain.Ref(item.Artifacts[domain.StageImage])
		payload["narration"] = domain.Ref(item.Artifacts[domain.StageNarration])
	case domain.StagePublish:
		payload["composed"] = domain.Ref(item.Artifacts[domain.StageCompose])
		payload["title"] = c.Title
		payload["url"] = domain.Ref(c.URL)
	}
	return payload
}

// publishProducer lets the stage runner drive a Publisher like any other producer.
type publishProducer struct {
	publisher ports.Publisher
}

func (p publishProducer) Produce(ctx context.Context, item domain.WorkItem, _ map[string]string) (domain.Artifact, error) {
	composed, ok := item.Artifacts[domain.StageCompose]
	if !ok || composed == "" {
		return domain.Artifact{}, domain.Permanent(fmt.Sprintf("publish %s: no composed artifact", item.Candidate.ID), nil)
	}

	c := item.Candidate
	externalID, err := p.publisher.Publish(ctx, composed, domain.PublishMetadata{
		CandidateID: c.ID,
		Title:       c.Title,
		URL:         c.URL,
		Source:      c.Source,
		Category:    c.Category,
	})
	if err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{Ref: externalID}, nil
}
