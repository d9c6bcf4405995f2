package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLLMsTxt_BasicLinks(t *testing.T) {
	content := "# Demo\n\n- [Alpha](a.md)\n- [Beta](b.md)\n"

	links := ParseLLMsTxt(content, "https://host.test/llms.txt")

	require.Len(t, links, 2)
	assert.Equal(t, "Alpha", links[0].Title)
	assert.Equal(t, "https://host.test/a.md", links[0].URL)
	assert.Equal(t, "Beta", links[1].Title)
	assert.Equal(t, "https://host.test/b.md", links[1].URL)
}

func TestParseLLMsTxt_Descriptions(t *testing.T) {
	content := "- [Guide](guide.md): A getting started guide\n- [API](api.md)\n"

	links := ParseLLMsTxt(content, "https://host.test/llms.txt")

	require.Len(t, links, 2)
	assert.Equal(t, "A getting started guide", links[0].Description)
	assert.Empty(t, links[1].Description)
}

func TestParseLLMsTxt_AbsoluteURLsPreserved(t *testing.T) {
	content := "- [External](https://elsewhere.test/doc.md)\n"

	links := ParseLLMsTxt(content, "https://host.test/llms.txt")

	require.Len(t, links, 1)
	assert.Equal(t, "https://elsewhere.test/doc.md", links[0].URL)
}

func TestParseLLMsTxt_NoLinks(t *testing.T) {
	assert.Empty(t, ParseLLMsTxt("# Just a heading\n\nNo links here.\n", "https://host.test/llms.txt"))
}

func TestIsLLMsTxtURL(t *testing.T) {
	assert.True(t, IsLLMsTxtURL("https://host.test/llms.txt"))
	assert.True(t, IsLLMsTxtURL("https://host.test/docs/llms.txt"))
	assert.False(t, IsLLMsTxtURL("https://host.test/readme.md"))
	assert.False(t, IsLLMsTxtURL("https://host.test/llms.txt.bak"))
}

func TestFetchDocument_MarkdownPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Alpha\n\nalpha body\n")
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	doc, err := f.FetchDocument(context.Background(), srv.URL+"/a.md")

	require.NoError(t, err)
	assert.Equal(t, "Alpha", doc.Title)
	assert.Equal(t, "# Alpha\n\nalpha body\n", doc.Content)
}

func TestFetchDocument_HTMLNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<h1>Hi</h1><p>there</p>")
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	doc, err := f.FetchDocument(context.Background(), srv.URL+"/page")

	require.NoError(t, err)
	assert.Equal(t, "Hi", doc.Title)
	assert.True(t, strings.HasPrefix(doc.Content, "# Hi"))
	assert.Contains(t, doc.Content, "there")
}

func TestFetchDocument_HTMLSniffWithoutContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "<!DOCTYPE html><html><body><h1>Sniffed</h1></body></html>")
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	doc, err := f.FetchDocument(context.Background(), srv.URL+"/page")

	require.NoError(t, err)
	assert.Equal(t, "Sniffed", doc.Title)
}

func TestFetchDocument_NoTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "plain content without heading\n")
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	doc, err := f.FetchDocument(context.Background(), srv.URL+"/doc.txt")

	require.NoError(t, err)
	assert.Empty(t, doc.Title)
}

func TestFetchDocument_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	_, err := f.FetchDocument(context.Background(), srv.URL+"/missing.md")

	assert.Error(t, err)
}

func TestFetchAllFromSource_Manifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Demo\n\n- [Alpha](a.md)\n- [Beta](b.md)\n")
	})
	mux.HandleFunc("/a.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Alpha\n\nalpha body\n")
	})
	mux.HandleFunc("/b.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Beta\n\nbeta body\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/llms.txt")

	assert.Empty(t, errs)
	require.Len(t, docs, 2)
	// Manifest order is preserved regardless of completion order.
	assert.Equal(t, srv.URL+"/a.md", docs[0].URL)
	assert.Equal(t, "Alpha", docs[0].Title)
	assert.Equal(t, srv.URL+"/b.md", docs[1].URL)
	assert.Equal(t, "Beta", docs[1].Title)
}

func TestFetchAllFromSource_LinkTitleFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "- [Link Title](plain.md)\n")
	})
	mux.HandleFunc("/plain.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "no heading here\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/llms.txt")

	assert.Empty(t, errs)
	require.Len(t, docs, 1)
	assert.Equal(t, "Link Title", docs[0].Title)
}

func TestFetchAllFromSource_PartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "- [Good](good.md)\n- [Bad](bad.md)\n")
	})
	mux.HandleFunc("/good.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Good\n")
	})
	mux.HandleFunc("/bad.md", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/llms.txt")

	require.Len(t, docs, 1)
	assert.Equal(t, "Good", docs[0].Title)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Failed to fetch "+srv.URL+"/bad.md")
}

func TestFetchAllFromSource_ManifestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/llms.txt")

	assert.Empty(t, docs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Failed to fetch source "+srv.URL+"/llms.txt")
}

func TestFetchAllFromSource_SingleDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Solo\n\ncontent\n")
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/doc.md")

	assert.Empty(t, errs)
	require.Len(t, docs, 1)
	assert.Equal(t, "Solo", docs[0].Title)
}

func TestFetchAllFromSource_EmptyManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Empty\n\nNo links.\n")
	}))
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/llms.txt")

	assert.Empty(t, docs)
	assert.Empty(t, errs)
}

func TestFetchAllFromSource_ConcurrencyCap(t *testing.T) {
	var mu sync.Mutex
	var current, peak int

	track := func(delta int) {
		mu.Lock()
		current += delta
		if current > peak {
			peak = current
		}
		mu.Unlock()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		for i := 0; i < 8; i++ {
			fmt.Fprintf(&sb, "- [Doc %d](d%d.md)\n", i, i)
		}
		fmt.Fprint(w, sb.String())
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		track(1)
		time.Sleep(20 * time.Millisecond)
		track(-1)
		fmt.Fprint(w, "# Doc\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(5*time.Second, 2)
	docs, errs := f.FetchAllFromSource(context.Background(), srv.URL+"/llms.txt")

	assert.Empty(t, errs)
	assert.Len(t, docs, 8)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
