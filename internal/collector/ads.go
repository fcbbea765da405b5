package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/artifact"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/fingerprint"
	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
)

// AdsCollector imports ad-library exports dropped into per-platform
// directories. Each creative becomes one observation; the content hash
// covers a canonical encoding of the parsed creative, so re-importing an
// unchanged export is a no-op for change detection.
type AdsCollector struct {
	cfg      config.AdsConfig
	recorder *recorder
	store    *artifact.Store
}

func NewAdsCollector(cfg config.AdsConfig, lg ledger.Ledger, store *artifact.Store, run *model.Run) *AdsCollector {
	return &AdsCollector{
		cfg:      cfg,
		recorder: &recorder{ledger: lg, run: run},
		store:    store,
	}
}

func (a *AdsCollector) Name() string             { return "ads" }
func (a *AdsCollector) Source() model.SourceType { return model.SourceAdGoogle }

func (a *AdsCollector) Collect(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("collector", "ads"))
	log.Info("starting ads collection", zap.Int("exports", len(a.cfg.Exports)))

	var res Result
	for _, export := range a.cfg.Exports {
		creatives, errs := a.loadExport(export)
		res.Errors += errs

		for _, ad := range creatives {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := a.saveCreative(ctx, ad); err != nil {
				log.Error("saving creative failed",
					zap.String("platform", ad.Platform),
					zap.String("creative_id", ad.CreativeID),
					zap.Error(err))
				res.Errors++
				continue
			}
			res.Observations++
		}
	}

	log.Info("ads collection finished",
		zap.Int("observations", res.Observations),
		zap.Int("errors", res.Errors))
	return res, nil
}

// loadExport reads every JSON and XLSX file in one export directory.
func (a *AdsCollector) loadExport(export config.AdExport) ([]*model.AdCreative, int) {
	log := zap.L().With(zap.String("platform", export.Platform), zap.String("dir", export.Dir))

	entries, err := os.ReadDir(export.Dir)
	if err != nil {
		log.Warn("export directory unreadable", zap.Error(err))
		return nil, 1
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var ads []*model.AdCreative
	var errs int
	for _, name := range names {
		path := filepath.Join(export.Dir, name)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json":
			parsed, err := a.parseJSONExport(path, export.Platform)
			if err != nil {
				log.Error("json export unreadable", zap.String("file", name), zap.Error(err))
				errs++
				continue
			}
			ads = append(ads, parsed...)
		case ".xlsx":
			parsed, err := a.parseXLSXExport(path, export.Platform)
			if err != nil {
				log.Error("xlsx export unreadable", zap.String("file", name), zap.Error(err))
				errs++
				continue
			}
			ads = append(ads, parsed...)
		}
	}

	log.Info("export loaded", zap.Int("creatives", len(ads)))
	return ads, errs
}

// parseJSONExport accepts a top-level array, or an object wrapping the
// creatives under "ads" or "data".
func (a *AdsCollector) parseJSONExport(path, platform string) ([]*model.AdCreative, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ads: read export")
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, eris.Wrap(err, "ads: decode export")
		}
		inner, ok := wrapper["ads"]
		if !ok {
			inner, ok = wrapper["data"]
		}
		if !ok {
			return nil, eris.Errorf("ads: unknown JSON structure in %s", filepath.Base(path))
		}
		if err := json.Unmarshal(inner, &records); err != nil {
			return nil, eris.Wrap(err, "ads: decode export list")
		}
	}

	ads := make([]*model.AdCreative, 0, len(records))
	for _, rec := range records {
		ads = append(ads, a.parseRecord(rec, platform))
	}
	return ads, nil
}

// parseRecord dispatches on the export platform. Google and Meta library
// exports use different field names and nesting; anything else falls back
// to a generic mapping.
func (a *AdsCollector) parseRecord(rec map[string]any, platform string) *model.AdCreative {
	switch platform {
	case "google":
		return a.parseGoogleAd(rec)
	case "meta":
		return a.parseMetaAd(rec)
	default:
		return a.parseGenericAd(rec, platform)
	}
}

// parseGoogleAd maps a Google Ads Transparency Center export record.
func (a *AdsCollector) parseGoogleAd(rec map[string]any) *model.AdCreative {
	media := strSlice(rec, "media_urls")
	if len(media) == 0 {
		if img := str(rec, "image_url"); img != "" {
			media = []string{img}
		}
	}
	return &model.AdCreative{
		Platform:    "google",
		Advertiser:  firstStr(rec, a.cfg.Advertiser, "advertiser_name"),
		CreativeID:  str(rec, "creative_id", "ad_id"),
		Text:        str(rec, "ad_text", "text"),
		Headline:    str(rec, "headline"),
		Description: str(rec, "description"),
		MediaURLs:   media,
		LandingPage: str(rec, "landing_page", "destination_url"),
		FirstSeen:   str(rec, "first_seen", "start_date"),
		LastSeen:    str(rec, "last_seen", "end_date"),
		Spend:       str(rec, "spend"),
		Currency:    str(rec, "currency"),
	}
}

// parseMetaAd maps a Meta Ad Library export record. The creative body
// lives under a nested "snapshot" object when present.
func (a *AdsCollector) parseMetaAd(rec map[string]any) *model.AdCreative {
	snapshot := rec
	if s, ok := rec["snapshot"].(map[string]any); ok {
		snapshot = s
	}

	media := strSlice(snapshot, "images")
	media = append(media, strSlice(snapshot, "videos")...)
	if cards, ok := snapshot["cards"].([]any); ok {
		for _, c := range cards {
			if card, ok := c.(map[string]any); ok {
				if img := str(card, "image"); img != "" {
					media = append(media, img)
				}
			}
		}
	}

	return &model.AdCreative{
		Platform:    "meta",
		Advertiser:  firstStr(rec, a.cfg.Advertiser, "page_name"),
		CreativeID:  str(rec, "ad_archive_id", "id"),
		Text:        str(snapshot, "body_text", "text"),
		Headline:    str(snapshot, "title", "link_title"),
		Description: str(snapshot, "link_description"),
		MediaURLs:   media,
		LandingPage: str(snapshot, "link_url", "link_caption"),
		FirstSeen:   str(rec, "ad_creation_time", "start_date"),
		LastSeen:    str(rec, "ad_delivery_stop_time"),
		Spend:       str(rec, "spend"),
		Currency:    str(rec, "currency"),
	}
}

func (a *AdsCollector) parseGenericAd(rec map[string]any, platform string) *model.AdCreative {
	return &model.AdCreative{
		Platform:    platform,
		Advertiser:  firstStr(rec, a.cfg.Advertiser, "advertiser"),
		CreativeID:  str(rec, "id", "creative_id"),
		Text:        str(rec, "text", "body"),
		Headline:    str(rec, "headline", "title"),
		Description: str(rec, "description"),
		MediaURLs:   strSlice(rec, "media_urls"),
		LandingPage: str(rec, "landing_page", "url"),
		FirstSeen:   str(rec, "first_seen"),
		LastSeen:    str(rec, "last_seen"),
	}
}

// parseXLSXExport reads a spreadsheet export: header row names the columns,
// one creative per following row.
func (a *AdsCollector) parseXLSXExport(path, platform string) ([]*model.AdCreative, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ads: open xlsx")
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.New("ads: xlsx has no sheets")
	}

	sheet := wb.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, nil
	}

	headers := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		headers[i] = strings.ToLower(strings.TrimSpace(cell.String()))
	}

	var ads []*model.AdCreative
	for _, row := range sheet.Rows[1:] {
		rec := make(map[string]any, len(headers))
		for i, cell := range row.Cells {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell.String()); v != "" {
				rec[headers[i]] = v
			}
		}
		if len(rec) == 0 {
			continue
		}
		ads = append(ads, a.parseRecord(rec, platform))
	}
	return ads, nil
}

// saveCreative derives identity and hash for one creative and records it.
func (a *AdsCollector) saveCreative(ctx context.Context, ad *model.AdCreative) error {
	source := model.SourceAdGoogle
	if ad.Platform == "meta" {
		source = model.SourceAdMeta
	}

	entityKey := fingerprint.EntityKey(ad.Platform, ad.CreativeID, ad.Text, ad.Headline)

	obs := a.recorder.newObservation(source, entityKey, ad.LandingPage)
	obs.ParsedJSON = marshalParsed(ad)
	obs.ContentHash = fingerprint.Hash(obs.ParsedJSON)

	safeID := ad.CreativeID
	if safeID == "" {
		safeID = entityKey[:16]
	}
	safeID = strings.ReplaceAll(safeID, "/", "_")
	if ref, err := a.store.Save("ads", ad.Platform, safeID+".json", []byte(obs.ParsedJSON)); err != nil {
		zap.L().Warn("creative artifact save failed", zap.String("creative_id", ad.CreativeID), zap.Error(err))
	} else {
		obs.RawRef = ref
	}

	_, err := a.recorder.record(ctx, obs)
	return err
}

// str returns the first non-empty string value among keys.
func str(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// firstStr is str with a configured fallback when no key matches.
func firstStr(rec map[string]any, fallback string, keys ...string) string {
	if v := str(rec, keys...); v != "" {
		return v
	}
	return fallback
}

func strSlice(rec map[string]any, key string) []string {
	raw, ok := rec[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
