// Package rzd checks seat availability on the RZD ticketing site.
//
// The site has no public API; pages are fetched with the same query the web
// search form sends and parsed with goquery. Markup changes surface as
// availability.ErrNoData rather than as a guessed verdict.
package rzd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"rzd_seat_bot/internal/domain/availability"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://pass.rzd.ru"
	ticketsPath      = "/tickets/public/ru"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var ErrUnknownStation = errors.New("unknown station")

// Config holds the client settings.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Client implements availability.Source and availability.Searcher.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

// NewClient creates a rate-limited client. Every request additionally obeys
// the deadline of the caller's context.
func NewClient(cfg Config, logger *logrus.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.WithField("component", "rzd"),
	}
}

// CheckAvailability looks for a free seat matching q on the train page.
func (c *Client) CheckAvailability(ctx context.Context, q availability.Query) (*availability.Verdict, error) {
	params, err := c.routeParams(q.DepartureStation, q.ArrivalStation, q.DepartureDate)
	if err != nil {
		return nil, err
	}
	params.Set("trainNumber", q.TrainNumber)

	doc, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	verdict, err := parseSeats(doc, q.SeatClass, q.Berth)
	if err != nil {
		return nil, fmt.Errorf("train %s on %s: %w", q.TrainNumber, q.DepartureDate.Format("2006-01-02"), err)
	}
	c.logger.WithFields(logrus.Fields{
		"train":     q.TrainNumber,
		"available": verdict.Available,
	}).Debug("Availability parsed")
	return verdict, nil
}

// SearchTrains lists trains on the route for the given day.
func (c *Client) SearchTrains(ctx context.Context, departure, arrival string, date time.Time) ([]availability.Train, error) {
	params, err := c.routeParams(departure, arrival, date)
	if err != nil {
		return nil, err
	}
	params.Set("time0", "00:00")
	params.Set("time1", "23:59")

	doc, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	trains := parseTrains(doc)
	if len(trains) == 0 {
		return nil, fmt.Errorf("train search %s → %s: %w", departure, arrival, availability.ErrNoData)
	}
	c.logger.WithField("trains", len(trains)).Debug("Train search parsed")
	return trains, nil
}

func (c *Client) routeParams(departure, arrival string, date time.Time) (url.Values, error) {
	from, ok := StationCode(departure)
	if !ok {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnknownStation, departure, availability.ErrNoData)
	}
	to, ok := StationCode(arrival)
	if !ok {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnknownStation, arrival, availability.ErrNoData)
	}
	params := url.Values{}
	params.Set("layer_id", "5827")
	params.Set("dir", "0")
	params.Set("tfl", "3")
	params.Set("checkSeats", "1")
	params.Set("code0", from)
	params.Set("code1", to)
	params.Set("dt0", date.Format("02.01.2006"))
	return params, nil
}

// get performs a rate-limited GET of the tickets page.
func (c *Client) get(ctx context.Context, params url.Values) (*goquery.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + ticketsPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tickets page returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return doc, nil
}
