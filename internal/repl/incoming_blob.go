package repl

import (
	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// incomingBlob downloads one attachment: it opens a blob-store writer,
// requests the attachment by digest, appends each reply chunk, and
// installs the blob under its content address when the reply completes.
type incomingBlob struct {
	*worker

	blobs   store.BlobStore
	request models.BlobRequest
	writer  store.BlobWriter
	onDone  func(*models.Error)
}

func newIncomingBlob(conn blip.Connection, blobs store.BlobStore, opts *Options, log *logger.Logger) *incomingBlob {
	return &incomingBlob{
		worker: newWorker("blob-in", conn, opts, nil, log),
		blobs:  blobs,
	}
}

// start requests the blob. onDone fires exactly once, with nil on a
// successful install.
func (b *incomingBlob) start(request models.BlobRequest, onDone func(*models.Error)) {
	b.enqueue(func() {
		b.request = request
		b.onDone = onDone
		b.log.Debug().Str("digest", string(request.Key)).Uint64("size", request.Size).
			Msg("requesting blob")

		writer, err := b.blobs.OpenWriter()
		if err != nil {
			b.fail(models.AsError(err))
			return
		}
		b.writer = writer
		b.addProgress(models.Progress{UnitsTotal: request.Size})

		msg := blip.NewMessage("getAttachment").SetProperty("digest", string(request.Key))
		b.sendRequest(msg, func(progress blip.MessageProgress) {
			if b.writer == nil || progress.Reply == nil {
				return
			}
			if progress.Reply.IsError() {
				b.fail(progress.Reply.Err())
				return
			}
			if chunk := progress.Reply.ExtractBody(); len(chunk) > 0 {
				if _, err := b.writer.Write(chunk); err != nil {
					b.fail(models.AsError(err))
					return
				}
				b.addProgress(models.Progress{UnitsCompleted: uint64(len(chunk))})
			}
			if progress.State == blip.MessageComplete {
				b.finish()
			}
		})
	})
}

func (b *incomingBlob) finish() {
	key, err := b.writer.Install(b.request.Key)
	b.writer = nil
	if err != nil {
		b.fail(models.AsError(err))
		return
	}
	b.log.Debug().Str("digest", string(key)).Msg("finished receiving blob")
	b.done(nil)
}

// fail closes the writer and bumps progress to completion so that the
// aggregate progress still reaches its total.
func (b *incomingBlob) fail(err *models.Error) {
	if b.writer != nil {
		b.writer.Abort()
		b.writer = nil
	}
	b.setProgress(models.Progress{
		UnitsCompleted: b.request.Size,
		UnitsTotal:     b.request.Size,
	})
	b.gotError(err)
	b.done(err)
}

func (b *incomingBlob) done(err *models.Error) {
	onDone := b.onDone
	b.onDone = nil
	b.stopMailbox()
	if onDone != nil {
		onDone(err)
	}
}
