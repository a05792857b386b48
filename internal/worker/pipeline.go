package worker

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"loopcard/internal/engine"
	"loopcard/internal/pkg/errors"
	"loopcard/internal/ports"
	"loopcard/internal/queue"
)

// pipeline runs the stage sequence for one job: acquire engine → render →
// transcode → upload → cache URL. Returns the public artifact URL.
func (p *Pool) pipeline(ctx context.Context, job *queue.Job) (string, error) {
	log := p.log.FromContext(ctx)

	eng, err := p.engine.Acquire(ctx)
	if err != nil {
		return "", errors.Wrap(err, "pipeline.engine", "engine unavailable").WithField("job_key", job.Key())
	}

	log.Debug("rendering", "timeout", p.renderTimeout.String())
	renderCtx, cancel := context.WithTimeout(ctx, p.renderTimeout)
	raw, err := eng.Render(renderCtx, engine.Payload{
		User:        job.User,
		Composition: job.Composition,
		Data:        job.Payload,
	})
	cancel()
	if err != nil {
		if renderCtx.Err() == context.DeadlineExceeded {
			return "", errors.WrapWithCode(err, errors.CodeTimeout, "pipeline.render",
				fmt.Sprintf("render exceeded %s timeout", p.renderTimeout)).WithField("job_key", job.Key())
		}
		return "", errors.Wrap(err, "pipeline.render", "render failed").WithField("job_key", job.Key())
	}
	log.Debug("render completed", "raw_bytes", len(raw))

	gif, err := p.converter.Convert(ctx, raw)
	if err != nil {
		return "", errors.Wrap(err, "pipeline.transcode", "transcode failed").WithField("job_key", job.Key())
	}
	log.Debug("transcode completed", "gif_bytes", len(gif))

	key := artifactKey(job)
	out, err := p.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "image/gif",
		Reader:      bytes.NewReader(gif),
		Size:        int64(len(gif)),
	})
	if err != nil {
		return "", errors.Wrap(err, "pipeline.upload", "artifact upload failed").WithField("job_key", job.Key())
	}
	log.Debug("artifact uploaded", "object_key", out.ObjectKey)

	url := artifactURL(p.publicBaseURL, out.ObjectKey)
	if err := p.store.CacheArtifactURL(ctx, job.Key(), url); err != nil {
		return "", errors.Wrap(err, "pipeline.cache", "url cache write failed").WithField("job_key", job.Key())
	}

	return url, nil
}

// artifactKey gives every render of a key a distinct object, so a rerun
// never clobbers an artifact a cached URL still points at.
func artifactKey(job *queue.Job) string {
	return fmt.Sprintf("%s/%s/%s.gif", job.User, job.Composition, job.ID)
}

func artifactURL(base, objectKey string) string {
	return strings.TrimRight(base, "/") + "/artifacts/" + objectKey
}
