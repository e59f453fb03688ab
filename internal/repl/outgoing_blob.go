package repl

import (
	"github.com/MKhiriev/go-doc-sync/internal/actor"
	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// outgoingBlob serves one getAttachment request: it reads the blob body
// off the connection goroutine and streams it back as the reply body
// (the transport chunks large replies).
type outgoingBlob struct {
	mailbox *actor.Mailbox
	blobs   store.BlobStore
	log     *logger.Logger
}

func newOutgoingBlob(_ statusOwner, blobs store.BlobStore, log *logger.Logger) *outgoingBlob {
	return &outgoingBlob{
		mailbox: actor.NewMailbox("blob-out", nil),
		blobs:   blobs,
		log:     log,
	}
}

func (b *outgoingBlob) start(req *blip.Request) {
	b.mailbox.Enqueue(func() {
		defer func() { go b.mailbox.Close() }()

		digest := models.BlobKey(req.Property("digest"))
		content, err := b.blobs.ReadAll(digest)
		if err != nil {
			b.log.Warn().Err(err).Str("digest", string(digest)).Msg("attachment not available")
			req.RespondError(models.DomainHTTP, 404, "no such attachment")
			return
		}

		b.log.Debug().Str("digest", string(digest)).Int("size", len(content)).
			Msg("sending blob")
		reply := blip.NewMessage("")
		reply.Body = content
		req.Respond(reply)
	})
}
