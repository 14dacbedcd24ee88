package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/internal/crawler"
	"sitebot-go/internal/docproc"
	"sitebot-go/internal/extractor"
	"sitebot-go/internal/model"
	"sitebot-go/pkg/fetch"
)

const homePage = `<html><head><title>Tea Shop</title></head><body>
<article><h1>Welcome to the tea shop</h1>
<p>We sell green and black tea from small farms. Every order is packed by hand and shipped the same day.</p>
<p>Read about <a href="/prices">our prices</a> and <a href="/files/terms.txt">delivery terms</a>.</p>
<img src="/logo.png" alt="logo">
</article></body></html>`

const pricesPage = `<html><head><title>Prices</title></head><body>
<article><h1>Prices</h1><p>Our prices change with every harvest season and are listed below for reference.</p>
<table><tr><th>Tea</th><th>Price</th></tr><tr><td>Green</td><td>3</td></tr><tr><td> </td><td></td></tr></table>
<a href="/files/terms.txt">terms again</a> <a href="/files/missing.txt">old terms</a>
</article></body></html>`

func newTestSite(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, homePage)
	})
	mux.HandleFunc("/prices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, pricesPage)
	})
	mux.HandleFunc("/files/terms.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "Delivery   takes two days.Payment on receipt.")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestScraper() *Scraper {
	f := fetch.New(5*time.Second, "")
	c := crawler.New(f, crawler.Options{Delay: time.Millisecond})
	e := extractor.New(f, f)
	docs := docproc.New(nil, nil, nil, docproc.Options{})
	return New(c, e, docs, nil, Options{
		MaxDepth:            2,
		MaxLinks:            10,
		MaxImagesPerPage:    5,
		MaxDocumentsPerPage: 3,
		DocumentConcurrency: 2,
	})
}

func TestTableText(t *testing.T) {
	rows := [][]string{{"Tea", "Price"}, {" ", ""}, {"Green", " 3 "}}
	assert.Equal(t, "Tea\tPrice\nGreen\t3", TableText(rows))
	assert.Empty(t, TableText(nil))
}

func TestRunCollectsItems(t *testing.T) {
	srv := newTestSite(t)

	res, err := newTestScraper().Run(context.Background(), "p1", srv.URL+"/")
	require.NoError(t, err)

	byType := map[model.DataType][]*model.ScrapedItem{}
	for _, item := range res.Items {
		assert.Equal(t, "p1", item.ProjectID)
		assert.NotEmpty(t, item.Content)
		byType[item.DataType] = append(byType[item.DataType], item)
	}

	assert.Len(t, byType[model.DataTypeText], 2)
	require.Len(t, byType[model.DataTypeTable], 1)
	assert.Equal(t, "Tea\tPrice\nGreen\t3", byType[model.DataTypeTable][0].Content)
	assert.Equal(t, srv.URL+"/prices", byType[model.DataTypeTable][0].Source)

	require.Len(t, byType[model.DataTypeDocument], 1)
	doc := byType[model.DataTypeDocument][0]
	assert.Equal(t, "Delivery takes two days. Payment on receipt.", doc.Content)
	assert.Equal(t, srv.URL+"/files/terms.txt", doc.Source)
	assert.Equal(t, "txt", doc.Metadata["format"])

	// OCR 未配置，图片被跳过
	assert.Empty(t, byType[model.DataTypeImageOCR])

	// 文档排在最后
	assert.Equal(t, model.DataTypeDocument, res.Items[len(res.Items)-1].DataType)

	assert.Equal(t, 2, res.Stats.TotalURLsScraped)
	assert.Equal(t, len(res.Items), res.Stats.TotalDataItems)
	assert.Equal(t, 1, res.Stats.DocumentsProcessed)
	assert.Equal(t, 2, res.Stats.DataTypes["text"])
	// missing.txt 下载失败
	require.Len(t, res.Stats.Errors, 1)
	assert.Equal(t, srv.URL+"/files/missing.txt", res.Stats.Errors[0].URL)

	m := res.Stats.Map()
	assert.Equal(t, 1, m["errors"])
}

func TestRunCanceled(t *testing.T) {
	srv := newTestSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScraper().Run(ctx, "p1", srv.URL+"/")
	assert.ErrorIs(t, err, context.Canceled)
}
