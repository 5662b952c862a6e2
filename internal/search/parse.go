package search

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
)

func bytesReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func parseBraveResponse(raw []byte) ([]Result, error) {
	var decoded braveResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

type serpResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func parseSerpResponse(raw []byte) ([]Result, error) {
	var decoded serpResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(decoded.OrganicResults))
	for _, r := range decoded.OrganicResults {
		out = append(out, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

type tavilyResponse struct {
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float32 `json:"score"`
	} `json:"results"`
}

func parseTavilyResponse(raw []byte) ([]Result, error) {
	var decoded tavilyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, Result{
			Title:      r.Title,
			URL:        r.URL,
			Snippet:    r.Content,
			RawContent: r.RawContent,
			Score:      r.Score,
		})
	}
	return out, nil
}
