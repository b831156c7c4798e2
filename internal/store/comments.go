package store

import (
	"context"
	"sort"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// CreateComment attaches a comment to an existing node (component or task)
// via a HAS_COMMENT edge and journals CREATE_COMMENT.
func (s *Store) CreateComment(ctx context.Context, in core.CommentInput) (*core.Comment, error) {
	if err := core.ValidateCommentInput(in); err != nil {
		return nil, err
	}
	comment := &core.Comment{
		ID:       in.ID,
		ParentID: in.ParentID,
		Content:  in.Content,
		Author:   in.Author,
		Metadata: in.Metadata,
		Created:  s.clock.Now(),
	}
	if comment.ID == "" {
		comment.ID = ident.New()
	}
	props, err := commentToProps(comment)
	if err != nil {
		return nil, core.Internal("encoding comment: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		if _, _, err := tx.FindNode(comment.ParentID, entityLabels...); err != nil {
			return err
		}
		if err := tx.CreateNode(graph.LabelComment, nil, props); err != nil {
			return err
		}
		edge := map[string]interface{}{
			"id":      ident.New(),
			"type":    string(core.RelHasComment),
			"created": ident.Format(comment.Created),
		}
		return tx.CreateEdge(comment.ParentID, comment.ID, edge)
	})
	if err != nil {
		return nil, wrapBackend(err, "creating comment on %s", comment.ParentID)
	}
	change := s.newChange(core.OpCreateComment, core.EntityComment, comment.ID, nil, stateOf(comment), nil)
	if err := s.record(ctx, change, "", nil); err != nil {
		return nil, err
	}
	return comment, nil
}

// GetComment fetches a comment by id.
func (s *Store) GetComment(ctx context.Context, id string) (*core.Comment, error) {
	var comment *core.Comment
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelComment, id)
		if err != nil {
			return err
		}
		comment, err = propsToComment(props)
		return err
	})
	if err != nil {
		return nil, wrapBackend(err, "getting comment %s", id)
	}
	return comment, nil
}

// GetNodeComments returns a node's comments, newest first, bounded by limit.
func (s *Store) GetNodeComments(ctx context.Context, nodeID string, limit int) ([]*core.Comment, error) {
	var out []*core.Comment
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		if _, _, err := tx.FindNode(nodeID, entityLabels...); err != nil {
			return err
		}
		edges, err := tx.Edges(graph.EdgeQuery{
			NodeID:   nodeID,
			Outgoing: true,
			Types:    []string{string(core.RelHasComment)},
		})
		if err != nil {
			return err
		}
		for _, edge := range edges {
			props, err := tx.GetNode(graph.LabelComment, edge.TargetID)
			if err != nil {
				return err
			}
			comment, err := propsToComment(props)
			if err != nil {
				return err
			}
			out = append(out, comment)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "listing comments of %s", nodeID)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateComment replaces a comment's content (and merges metadata) and
// journals UPDATE_COMMENT.
func (s *Store) UpdateComment(ctx context.Context, id, content string, metadata core.Metadata) (*core.Comment, error) {
	if content == "" {
		return nil, core.Validation("comment content must not be empty")
	}
	if err := core.ValidateMetadata("metadata", metadata); err != nil {
		return nil, err
	}
	var before, after *core.Comment
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelComment, id)
		if err != nil {
			return err
		}
		before, err = propsToComment(props)
		if err != nil {
			return err
		}
		next := *before
		next.Content = content
		if metadata != nil {
			merged := core.Metadata{}
			for k, v := range before.Metadata {
				merged[k] = v
			}
			for k, v := range metadata {
				merged[k] = v
			}
			next.Metadata = merged
		}
		now := s.clock.Now()
		next.Updated = &now
		after = &next

		nextProps, err := commentToProps(after)
		if err != nil {
			return err
		}
		return tx.UpdateNode(graph.LabelComment, id, nextProps)
	})
	if err != nil {
		return nil, wrapBackend(err, "updating comment %s", id)
	}
	change := s.newChange(core.OpUpdateComment, core.EntityComment, id, stateOf(before), stateOf(after), nil)
	if err := s.record(ctx, change, "", nil); err != nil {
		return nil, err
	}
	return after, nil
}

// DeleteComment removes a comment and journals DELETE_COMMENT.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	var before *core.Comment
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelComment, id)
		if err != nil {
			return err
		}
		before, err = propsToComment(props)
		if err != nil {
			return err
		}
		return tx.DeleteNode(graph.LabelComment, id)
	})
	if err != nil {
		return wrapBackend(err, "deleting comment %s", id)
	}
	change := s.newChange(core.OpDeleteComment, core.EntityComment, id, stateOf(before), nil, nil)
	return s.record(ctx, change, "", nil)
}
