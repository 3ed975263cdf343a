package ytdirect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"fknsrs.biz/p/feedsync/internal/ctxhttpclient"
)

// BaseURL is where channel, playlist, and video pages are loaded from.
var BaseURL = "https://www.youtube.com"

var (
	ErrNoChannelID = fmt.Errorf("ytdirect: could not find channel id in page")

	channelIDPattern = regexp.MustCompile(`"(?:channelId|externalId|browseId)":"(UC[-_a-zA-Z0-9]{22})"`)
)

func HandleURL(handle string) string { return BaseURL + "/" + url.PathEscape(handle) }

func PlaylistURL(id string) string { return BaseURL + "/playlist?list=" + url.QueryEscape(id) }

func VideoURL(id string) string { return BaseURL + "/watch?v=" + url.QueryEscape(id) }

func ChannelURL(id string) string { return BaseURL + "/channel/" + url.PathEscape(id) }

func getDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	res, err := ctxhttpclient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ytdirect.getDocument: status code: %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	return doc, nil
}

type Channel struct {
	ID           string
	Title        string
	ThumbnailURL string
}

// GetChannel loads a channel, handle, or custom URL page and reads the
// channel's identity off it.
func GetChannel(ctx context.Context, pageURL string) (*Channel, error) {
	doc, err := getDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.GetChannel: %w", err)
	}

	ch := &Channel{
		ID:           doc.Find("meta[itemprop=channelId]").AttrOr("content", ""),
		Title:        doc.Find("meta[property='og:title']").AttrOr("content", ""),
		ThumbnailURL: doc.Find("meta[property='og:image']").AttrOr("content", ""),
	}

	if ch.ID == "" {
		ch.ID = channelIDFromInitialData(doc)
	}

	if ch.ID == "" {
		if href := doc.Find("link[rel=canonical]").AttrOr("href", ""); strings.Contains(href, "/channel/UC") {
			ch.ID = href[strings.LastIndex(href, "/")+1:]
		}
	}

	if ch.ID == "" {
		if m := channelIDPattern.FindStringSubmatch(doc.Text()); len(m) > 1 {
			ch.ID = m[1]
		}
	}

	if ch.ID == "" {
		return nil, fmt.Errorf("ytdirect.GetChannel: %s: %w", pageURL, ErrNoChannelID)
	}

	return ch, nil
}

func ResolveChannelID(ctx context.Context, pageURL string) (string, error) {
	ch, err := GetChannel(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("ytdirect.ResolveChannelID: %w", err)
	}

	return ch.ID, nil
}

func channelIDFromInitialData(doc *goquery.Document) string {
	const (
		externalIDPath = "metadata.channelMetadataRenderer.externalId"
		ownerIDPath    = "header.c4TabbedHeaderRenderer.channelId"
	)

	for _, node := range doc.Find("script").Nodes {
		if node.FirstChild == nil || node.FirstChild.Type != html.TextNode {
			continue
		}

		jsContent := strings.TrimSpace(node.FirstChild.Data)

		if !strings.HasPrefix(jsContent, "var ytInitialData =") {
			continue
		}

		jsContent = strings.TrimPrefix(jsContent, "var ytInitialData =")
		jsContent = strings.TrimSuffix(jsContent, ";")

		j, err := gabs.ParseJSON([]byte(jsContent))
		if err != nil {
			continue
		}

		for _, path := range []string{externalIDPath, ownerIDPath} {
			if s, ok := j.Path(path).Data().(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}
