package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// NominatimGeocoder - клиент обратного геокодирования через Nominatim
type NominatimGeocoder struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewNominatimGeocoder создает новый клиент геокодера
func NewNominatimGeocoder(cfg *config.Config, logger *logrus.Logger) *NominatimGeocoder {
	return &NominatimGeocoder{
		baseURL: cfg.GeocoderURL,
		httpClient: &http.Client{
			Timeout: cfg.GeocoderTimeout,
		},
		logger: logger,
	}
}

// nominatimResponse - подмножество ответа Nominatim /reverse
type nominatimResponse struct {
	Address struct {
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		State    string `json:"state"`
		Country  string `json:"country"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// Reverse выполняет обратное геокодирование координат.
// Возвращает (nil, nil), если адрес не разрешен: пустой результат не является ошибкой.
func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lng float64) (*models.Address, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	query.Set("format", "jsonv2")
	query.Set("accept-language", "en")

	endpoint := fmt.Sprintf("%s/reverse?%s", g.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: failed to create reverse request: %w", err)
	}
	req.Header.Set("User-Agent", "emergency_dispatch_system")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: reverse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: reverse request returned status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geocode: failed to decode reverse response: %w", err)
	}

	city := body.Address.City
	if city == "" {
		city = body.Address.Town
	}
	if city == "" {
		city = body.Address.Village
	}

	if city == "" && body.Address.State == "" && body.Address.Country == "" && body.Address.Postcode == "" {
		// Адрес не разрешен, вызывающая сторона вернется к сырым координатам
		return nil, nil
	}

	return &models.Address{
		City:     city,
		State:    body.Address.State,
		Country:  body.Address.Country,
		Postcode: body.Address.Postcode,
	}, nil
}
