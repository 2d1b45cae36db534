package polygon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"etfspread/internal/provider"
	polygon "etfspread/internal/provider/polygon"
	"etfspread/internal/provider/ratelimit"
)

func sessionWindow() provider.Window {
	open := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	return provider.Window{
		Date:  "2021-01-04",
		Open:  open,
		Close: open.Add(6*time.Hour + 30*time.Minute),
	}
}

func page(ticks ...map[string]any) io.ReadCloser {
	buffer := &bytes.Buffer{}
	body := map[string]any{
		"ticker":        "SPY",
		"success":       true,
		"results_count": len(ticks),
		"results":       ticks,
	}
	if err := json.NewEncoder(buffer).Encode(body); err != nil {
		panic(err)
	}
	return io.NopCloser(buffer)
}

func nbboTick(ns int64, bid string, bidSize int64, ask string, askSize int64) map[string]any {
	return map[string]any{"t": ns, "p": json.Number(bid), "s": bidSize, "P": json.Number(ask), "S": askSize}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	// Assert: a valid key should return a client.
	client, err := polygon.NewClient("test")
	require.NoErrorf(t, err, "unexpected error: %v", err)
	require.NotNilf(t, client, "unexpected nil client")
}

func TestWithBaseURL(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	// Arrange: define a base url
	baseURL := "http://localhost:8080"

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Truef(t, strings.HasPrefix(req.URL.String(), baseURL), "expected url to start with base url, received: %s", req.URL.String())
			require.Equal(t, "test", req.URL.Query().Get("apiKey"))

			return &http.Response{StatusCode: http.StatusOK, Body: page()}, nil
		}).
		Times(1)

	// Arrange: create a new client.
	client, err := polygon.NewClient("test", polygon.WithHTTPClient(httpClient), polygon.WithBaseURL(baseURL))
	require.NoError(t, err)
	require.NotNil(t, client)

	// Act: fetch with the overridden base URL.
	_, err = client.Fetch(context.Background(), "SPY", sessionWindow())
	require.NoError(t, err)
}

func TestWithHeader(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "bar", req.Header.Get("foo"))
			return &http.Response{StatusCode: http.StatusOK, Body: page()}, nil
		}).
		Times(1)

	client, err := polygon.NewClient("test",
		polygon.WithHTTPClient(httpClient),
		polygon.WithHeader(http.Header{"foo": []string{"bar"}}),
	)
	require.NoError(t, err)
	require.NotNil(t, client)

	_, err = client.Fetch(context.Background(), "SPY", sessionWindow())
	require.NoError(t, err)
}

func TestFetch_SinglePage(t *testing.T) {
	t.Parallel()

	w := sessionWindow()
	openNS := w.Open.UnixNano()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Contains(t, req.URL.Path, "/v2/ticks/stocks/nbbo/SPY/2021-01-04")
			require.Equal(t, fmt.Sprint(openNS), req.URL.Query().Get("timestamp"))

			return &http.Response{StatusCode: http.StatusOK, Body: page(
				nbboTick(openNS, "10.00", 5, "10.05", 3),
				nbboTick(openNS+int64(30*time.Second), "10.02", 2, "10.06", 4),
			)}, nil
		}).
		Times(1)

	client, err := polygon.NewClient("test", polygon.WithHTTPClient(httpClient))
	require.NoError(t, err)

	quotes, err := client.Fetch(context.Background(), "SPY", w)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	require.True(t, quotes[0].Timestamp.Equal(w.Open))
	require.Equal(t, "10.00", quotes[0].BidPrice.StringFixed(2))
	require.Equal(t, "10.05", quotes[0].AskPrice.StringFixed(2))
	require.EqualValues(t, 5, quotes[0].BidSize)
	require.EqualValues(t, 3, quotes[0].AskSize)
	require.Equal(t, "Polygon", quotes[0].Source)

	require.Equal(t, "0.05", quotes[0].Spread().String())
	require.Equal(t, "0.04", quotes[1].Spread().String())
}

func TestFetch_PaginatesWithTimestampCursor(t *testing.T) {
	t.Parallel()

	w := sessionWindow()
	openNS := w.Open.UnixNano()
	secondNS := openNS + int64(time.Second)

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	first := httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, fmt.Sprint(openNS), req.URL.Query().Get("timestamp"))
			require.Equal(t, "2", req.URL.Query().Get("limit"))

			// Full page: the client must continue from the last timestamp.
			return &http.Response{StatusCode: http.StatusOK, Body: page(
				nbboTick(openNS, "10.00", 1, "10.01", 1),
				nbboTick(secondNS, "10.00", 1, "10.02", 1),
			)}, nil
		})
	httpClient.EXPECT().
		Do(gomock.Any()).
		After(first).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, fmt.Sprint(secondNS), req.URL.Query().Get("timestamp"))

			// Short page ends pagination.
			return &http.Response{StatusCode: http.StatusOK, Body: page(
				nbboTick(secondNS+int64(time.Second), "10.01", 1, "10.03", 1),
			)}, nil
		})

	client, err := polygon.NewClient("test", polygon.WithHTTPClient(httpClient), polygon.WithPageLimit(2))
	require.NoError(t, err)

	quotes, err := client.Fetch(context.Background(), "SPY", w)
	require.NoError(t, err)
	require.Len(t, quotes, 3)
}

func TestFetch_PacedPaginationCompletes(t *testing.T) {
	t.Parallel()

	w := sessionWindow()
	openNS := w.Open.UnixNano()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	calls := 0
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			calls++
			switch calls {
			case 1:
				return &http.Response{StatusCode: http.StatusOK, Body: page(
					nbboTick(openNS, "10.00", 1, "10.01", 1),
					nbboTick(openNS+int64(time.Second), "10.00", 1, "10.01", 1),
				)}, nil
			case 2:
				return &http.Response{StatusCode: http.StatusOK, Body: page(
					nbboTick(openNS+int64(2*time.Second), "10.00", 1, "10.01", 1),
					nbboTick(openNS+int64(3*time.Second), "10.00", 1, "10.01", 1),
				)}, nil
			default:
				return &http.Response{StatusCode: http.StatusOK, Body: page(
					nbboTick(openNS+int64(4*time.Second), "10.00", 1, "10.01", 1),
				)}, nil
			}
		}).
		Times(3)

	// Burst 1 forces a pacer wait before pages 2 and 3. With no deadline on
	// the context the fetch must ride out those waits, not die mid-unit.
	client, err := polygon.NewClient("test",
		polygon.WithHTTPClient(httpClient),
		polygon.WithPageLimit(2),
		polygon.WithPacer(ratelimit.NewTokenBucket(20, 1)),
	)
	require.NoError(t, err)

	quotes, err := client.Fetch(context.Background(), "SPY", w)
	require.NoError(t, err)
	require.Len(t, quotes, 5)
}

func TestFetch_DropsTicksAtOrAfterClose(t *testing.T) {
	t.Parallel()

	w := sessionWindow()
	closeNS := w.Close.UnixNano()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: page(
				nbboTick(closeNS-int64(time.Second), "10.00", 1, "10.01", 1),
				nbboTick(closeNS, "10.00", 1, "10.01", 1),
				nbboTick(closeNS+int64(time.Second), "10.00", 1, "10.01", 1),
			)}, nil
		}).
		Times(1)

	client, err := polygon.NewClient("test", polygon.WithHTTPClient(httpClient))
	require.NoError(t, err)

	quotes, err := client.Fetch(context.Background(), "SPY", w)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.True(t, quotes[0].Timestamp.Before(w.Close))
}

func TestFetch_UnauthorizedIsRetrievalError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusForbidden, Body: io.NopCloser(strings.NewReader(""))}, nil
		}).
		Times(1)

	client, err := polygon.NewClient("bad", polygon.WithHTTPClient(httpClient))
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "SPY", sessionWindow())
	require.Error(t, err)

	var re *provider.RetrievalError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "Polygon", re.Provider)
	require.Equal(t, "SPY", re.Symbol)
	require.Equal(t, "2021-01-04", re.Date)
}

func TestFetch_PageCapFails(t *testing.T) {
	t.Parallel()

	w := sessionWindow()
	openNS := w.Open.UnixNano()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// One full page advances the cursor but the cap forbids a second request.
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: page(
				nbboTick(openNS, "10.00", 1, "10.01", 1),
				nbboTick(openNS+int64(time.Second), "10.00", 1, "10.01", 1),
			)}, nil
		}).
		Times(1)

	client, err := polygon.NewClient("test",
		polygon.WithHTTPClient(httpClient),
		polygon.WithPageLimit(2),
		polygon.WithMaxPages(1),
	)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "SPY", w)
	require.Error(t, err)
	require.Contains(t, err.Error(), "page cap")
}

func TestFetch_FailureFlagFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(map[string]any{"success": false}))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buffer)}, nil
		}).
		Times(1)

	client, err := polygon.NewClient("test", polygon.WithHTTPClient(httpClient))
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "SPY", sessionWindow())
	require.Error(t, err)
}
