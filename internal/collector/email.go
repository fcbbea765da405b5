package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/intel-cli/internal/artifact"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/fingerprint"
	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/normalize"
)

const (
	maxEmailLinks     = 50
	entityBodyPrefix  = 100
	maxEmailTotalSize = 10 << 20
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

// EmailCollector reads exported RFC 5322 messages from a drop directory.
// Identity combines the sender domain, subject, and a body prefix so
// resends of the same campaign dedup while reworded sends do not.
type EmailCollector struct {
	cfg      config.EmailConfig
	recorder *recorder
	store    *artifact.Store
}

func NewEmailCollector(cfg config.EmailConfig, lg ledger.Ledger, store *artifact.Store, run *model.Run) *EmailCollector {
	return &EmailCollector{
		cfg:      cfg,
		recorder: &recorder{ledger: lg, run: run},
		store:    store,
	}
}

func (e *EmailCollector) Name() string             { return "email" }
func (e *EmailCollector) Source() model.SourceType { return model.SourceEmail }

func (e *EmailCollector) Collect(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("collector", "email"))
	log.Info("starting email collection", zap.String("drop_dir", e.cfg.DropDir))

	var res Result

	entries, err := os.ReadDir(e.cfg.DropDir)
	if err != nil {
		return res, eris.Wrapf(err, "email: read drop dir %s", e.cfg.DropDir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".eml") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	log.Info("messages found", zap.Int("count", len(names)))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		recorded, err := e.collectMessage(ctx, filepath.Join(e.cfg.DropDir, name))
		if err != nil {
			log.Error("message collection failed", zap.String("file", name), zap.Error(err))
			res.Errors++
			continue
		}
		if recorded {
			res.Observations++
		}
	}

	log.Info("email collection finished",
		zap.Int("observations", res.Observations),
		zap.Int("errors", res.Errors))
	return res, nil
}

// collectMessage parses one .eml file and records it. Returns false with a
// nil error when sender filtering skips the message.
func (e *EmailCollector) collectMessage(ctx context.Context, path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, eris.Wrap(err, "email: read message")
	}
	if len(raw) > maxEmailTotalSize {
		return false, eris.Errorf("email: message %s exceeds size limit", filepath.Base(path))
	}

	msg, err := parseEmail(raw)
	if err != nil {
		return false, eris.Wrapf(err, "email: parse %s", filepath.Base(path))
	}

	if !e.senderAllowed(msg.FromDomain) {
		zap.L().Debug("message filtered by sender domain",
			zap.String("from_domain", msg.FromDomain),
			zap.String("file", filepath.Base(path)))
		return false, nil
	}

	bodyPrefix := msg.BodyText
	if len(bodyPrefix) > entityBodyPrefix {
		bodyPrefix = bodyPrefix[:entityBodyPrefix]
	}
	entityKey := fingerprint.EntityKey(msg.FromDomain, msg.Subject, bodyPrefix)

	obs := e.recorder.newObservation(model.SourceEmail, entityKey, "")

	body := msg.BodyText
	if body == "" {
		body = msg.BodyHTML
	}
	obs.ContentHash = fingerprint.Hash(msg.Subject + "|" + body)
	obs.ParsedJSON = marshalParsed(msg)

	slug := artifact.Slugify(msg.Subject)
	if len(slug) > 50 {
		slug = slug[:50]
	}
	if ref, err := e.store.Save("email", slug, filepath.Base(path), raw); err != nil {
		zap.L().Warn("raw artifact save failed", zap.String("file", filepath.Base(path)), zap.Error(err))
	} else {
		obs.RawRef = ref
	}
	if _, err := e.store.Save("email", slug, "parsed.json", []byte(obs.ParsedJSON)); err != nil {
		zap.L().Warn("parsed artifact save failed", zap.String("file", filepath.Base(path)), zap.Error(err))
	}

	zap.L().Info("collected email",
		zap.String("subject", msg.Subject),
		zap.String("from_domain", msg.FromDomain))

	if _, err := e.recorder.record(ctx, obs); err != nil {
		return false, err
	}
	return true, nil
}

// senderAllowed applies the allowed-domains filter; an empty filter admits
// every sender.
func (e *EmailCollector) senderAllowed(fromDomain string) bool {
	if len(e.cfg.AllowedDomains) == 0 {
		return true
	}
	for _, domain := range e.cfg.AllowedDomains {
		if strings.Contains(fromDomain, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// parseEmail decodes an RFC 5322 message into the stored payload: headers,
// text and HTML bodies, sender domain, and extracted links.
func parseEmail(raw []byte) (*model.EmailMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "read message")
	}

	out := &model.EmailMessage{
		MessageID: msg.Header.Get("Message-ID"),
		From:      decodeHeader(msg.Header.Get("From")),
		To:        decodeHeader(msg.Header.Get("To")),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
	}

	if date, err := msg.Header.Date(); err == nil {
		out.Date = date.UTC()
	} else {
		out.Date = time.Now().UTC()
	}

	out.FromDomain = senderDomain(out.From)

	contentType := msg.Header.Get("Content-Type")
	encoding := msg.Header.Get("Content-Transfer-Encoding")
	if err := readBody(msg.Body, contentType, encoding, out); err != nil {
		return nil, err
	}

	content := out.BodyHTML
	if content == "" {
		content = out.BodyText
	}
	out.Links = extractEmailLinks(content)

	return out, nil
}

// readBody walks a (possibly nested multipart) body, keeping the first
// text/plain and text/html parts.
func readBody(r io.Reader, contentType, encoding string, out *model.EmailMessage) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return eris.New("multipart body without boundary")
		}
		mr := multipart.NewReader(r, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return eris.Wrap(err, "read multipart")
			}
			if err := readBody(part, part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), out); err != nil {
				return err
			}
		}
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}
	if mediaType == "text/plain" && out.BodyText != "" {
		return nil
	}
	if mediaType == "text/html" && out.BodyHTML != "" {
		return nil
	}

	body, err := decodeTransferEncoding(r, encoding)
	if err != nil {
		return err
	}

	if mediaType == "text/plain" {
		out.BodyText = strings.TrimSpace(body)
	} else {
		out.BodyHTML = strings.TrimSpace(body)
		if out.BodyText == "" {
			out.BodyText = normalize.ExtractText(out.BodyHTML)
		}
	}
	return nil
}

func decodeTransferEncoding(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxEmailTotalSize))
	if err != nil {
		return "", eris.Wrap(err, "decode body")
	}
	return string(body), nil
}

// decodeHeader unpacks RFC 2047 encoded words; undecodable headers pass
// through verbatim.
func decodeHeader(value string) string {
	dec := mime.WordDecoder{}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// senderDomain pulls the lowercase domain out of a From header.
func senderDomain(from string) string {
	addr, err := mail.ParseAddress(from)
	address := from
	if err == nil {
		address = addr.Address
	}
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return strings.ToLower(address[at+1:])
	}
	return "unknown"
}

// extractEmailLinks collects hrefs from HTML content, falling back to a URL
// regex for plain text. Deduplicated and sorted, capped at maxEmailLinks.
func extractEmailLinks(content string) []string {
	if content == "" {
		return nil
	}

	seen := make(map[string]struct{})

	if doc, err := html.Parse(strings.NewReader(content)); err == nil {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode && n.Data == "a" {
				if href := attrValue(n, "href"); strings.HasPrefix(href, "http") {
					seen[href] = struct{}{}
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(doc)
	}

	if len(seen) == 0 {
		for _, m := range urlRe.FindAllString(content, -1) {
			seen[m] = struct{}{}
		}
	}

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	if len(links) > maxEmailLinks {
		links = links[:maxEmailLinks]
	}
	return links
}
