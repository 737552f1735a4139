package city

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/provider"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c := NewClient("RetailSecurityDashboard/1.0", 6000, discard)
	c.httpClient.Transport = transport
	c.now = func() time.Time { return time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC) }
	return c, transport
}

var chicago = config.CitySource{
	Key:         "chicago",
	Name:        "Chicago Police Department",
	Country:     "United States",
	CountryCode: "US",
	State:       "Illinois",
	City:        "Chicago",
	APIURL:      "https://data.cityofchicago.org/resource/ijzp-q8t2.json",
	Params: map[string]string{
		"$limit": "1000",
		"$where": "date > '{start_date}'",
	},
	FieldMap: config.FieldMap{
		ID:          "id",
		Date:        "date",
		Type:        "primary_type",
		Description: "description",
		Latitude:    "latitude",
		Longitude:   "longitude",
		Address:     "block",
	},
}

func TestClient_Fetch(t *testing.T) {
	t.Parallel()
	c, transport := newTestClient(t)

	var got *http.Request
	transport.RegisterResponder(http.MethodGet, chicago.APIURL,
		func(req *http.Request) (*http.Response, error) {
			got = req
			return httpmock.NewStringResponse(http.StatusOK, `[{"id": 13456789012, "date": "2026-05-30T10:00:00.000"}]`), nil
		})

	payload, err := c.Fetch(context.Background(), chicago, 30)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "date > '2026-05-01'", got.URL.Query().Get("$where"))
	assert.Equal(t, "1000", got.URL.Query().Get("$limit"))
	assert.Equal(t, "RetailSecurityDashboard/1.0", got.Header.Get("User-Agent"))

	list, ok := payload.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	id, _ := provider.Lookup(list[0], "id")
	assert.Equal(t, "13456789012", id.(interface{ String() string }).String(), "ids keep full precision")
}

func TestClient_FetchErrors(t *testing.T) {
	t.Parallel()

	t.Run("http status", func(t *testing.T) {
		t.Parallel()
		c, transport := newTestClient(t)
		transport.RegisterResponder(http.MethodGet, chicago.APIURL,
			httpmock.NewStringResponder(http.StatusServiceUnavailable, "maintenance"))
		_, err := c.Fetch(context.Background(), chicago, 30)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "maintenance")
	})

	t.Run("bad json", func(t *testing.T) {
		t.Parallel()
		c, transport := newTestClient(t)
		transport.RegisterResponder(http.MethodGet, chicago.APIURL,
			httpmock.NewStringResponder(http.StatusOK, "<html>"))
		_, err := c.Fetch(context.Background(), chicago, 30)
		assert.Error(t, err)
	})

	t.Run("transport", func(t *testing.T) {
		t.Parallel()
		c, transport := newTestClient(t)
		transport.RegisterResponder(http.MethodGet, chicago.APIURL,
			httpmock.NewErrorResponder(errors.New("connection reset")))
		_, err := c.Fetch(context.Background(), chicago, 30)
		assert.ErrorContains(t, err, "connection reset")
	})
}

func decode(t *testing.T, s string) any {
	t.Helper()
	v, err := provider.DecodeJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func TestTransform_FlatList(t *testing.T) {
	t.Parallel()

	payload := decode(t, `[
		{"id": "111", "date": "2026-05-30T10:15:00.000", "primary_type": "THEFT",
		 "description": "RETAIL THEFT", "latitude": "41.88", "longitude": "-87.63", "block": "001XX N STATE ST"},
		{"id": "112", "date": "2026-05-29T08:00:00", "primary_type": "ROBBERY",
		 "description": "ARMED - HANDGUN", "latitude": "0", "longitude": "0"},
		{"id": "113", "primary_type": "THEFT", "description": "no date"},
		{"id": "114", "date": "not a date", "primary_type": "THEFT"},
		"not an object"
	]`)

	batch, err := Transform(chicago, payload, classify.Default())
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Fetched)
	assert.Equal(t, 3, batch.Skipped)
	require.Len(t, batch.Incidents, 2)

	theft := batch.Incidents[0]
	assert.Equal(t, "chicago_111", theft.SourceID)
	assert.Equal(t, provider.SourcePoliceAPI, theft.SourceType)
	assert.Equal(t, "theft", theft.IncidentType)
	assert.Equal(t, 2, theft.Severity)
	assert.True(t, theft.IsRetailRelated)
	assert.Equal(t, "Chicago", theft.City)
	assert.Equal(t, "Illinois", theft.StateProvince)
	assert.Equal(t, "001XX N STATE ST", theft.Address)
	assert.Equal(t, time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC), theft.IncidentDate)
	require.NotNil(t, theft.IncidentDatetime)
	require.NotNil(t, theft.Latitude)
	assert.InDelta(t, 41.88, *theft.Latitude, 1e-9)
	assert.JSONEq(t, `{"id":"111","date":"2026-05-30T10:15:00.000","primary_type":"THEFT",
		"description":"RETAIL THEFT","latitude":"41.88","longitude":"-87.63","block":"001XX N STATE ST"}`,
		string(theft.RawData))

	robbery := batch.Incidents[1]
	assert.Equal(t, "robbery", robbery.IncidentType)
	assert.Equal(t, 5, robbery.Severity, "armed escalates robbery")
	assert.Nil(t, robbery.Latitude, "(0,0) is a placeholder")
	assert.Nil(t, robbery.Longitude)
	assert.Empty(t, robbery.Address)
}

func TestTransform_ContentHashFallback(t *testing.T) {
	t.Parallel()

	payload := decode(t, `[{"date": "2026-05-30", "primary_type": "THEFT"}]`)
	a, err := Transform(chicago, payload, classify.Default())
	require.NoError(t, err)
	b, err := Transform(chicago, decode(t, `[{"primary_type": "THEFT", "date": "2026-05-30"}]`), classify.Default())
	require.NoError(t, err)

	require.Len(t, a.Incidents, 1)
	assert.Regexp(t, `^chicago_[0-9a-f]{32}$`, a.Incidents[0].SourceID)
	assert.Equal(t, a.Incidents[0].SourceID, b.Incidents[0].SourceID, "key order does not change the hash")
}

func TestTransform_ArcGIS(t *testing.T) {
	t.Parallel()

	atlanta := config.CitySource{
		Key: "atlanta", Country: "United States", CountryCode: "US", State: "Georgia", City: "Atlanta",
		FieldMap: config.FieldMap{
			ID: "Report_Number", Date: "Report_Date", Type: "NIBRS_Offense",
			Latitude: "Latitude", Longitude: "Longitude",
		},
		ResponsePath:  "features",
		AttributesKey: "attributes",
	}
	payload := decode(t, `{"features": [
		{"attributes": {"Report_Number": "A1", "Report_Date": 1748563200000,
		 "NIBRS_Offense": "Shoplifting", "Latitude": 33.75, "Longitude": -84.39}},
		{"attributes": {"Report_Number": "A2", "Report_Date": 1748563200000,
		 "NIBRS_Offense": "Burglary/Breaking & Entering"}}
	]}`)

	batch, err := Transform(atlanta, payload, classify.Default())
	require.NoError(t, err)
	require.Len(t, batch.Incidents, 2)
	assert.Equal(t, "atlanta_A1", batch.Incidents[0].SourceID)
	assert.Equal(t, "theft", batch.Incidents[0].IncidentType, "agency shoplifting label is theft")
	assert.Equal(t, time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC), batch.Incidents[0].IncidentDate)
	assert.Equal(t, "burglary", batch.Incidents[1].IncidentType)
	assert.Equal(t, "Atlanta", batch.Incidents[1].City)
}

func TestTransform_OffenseLabelBeatsNarrative(t *testing.T) {
	t.Parallel()

	seattle := config.CitySource{
		Key: "seattle", Country: "United States", CountryCode: "US", State: "Washington", City: "Seattle",
		FieldMap: config.FieldMap{
			ID: "report_number", Date: "offense_date", Type: "offense_parent_group", Description: "offense",
		},
	}
	payload := decode(t, `[
		{"report_number": "1", "offense_date": "2026-05-01T00:00:00", "offense_parent_group": "ARSON",
		 "offense": "structure fire, no one injured"},
		{"report_number": "2", "offense_date": "2026-05-01T00:00:00", "offense_parent_group": "BURGLARY",
		 "offense": "residence, property stolen"},
		{"report_number": "3", "offense_date": "2026-05-01T00:00:00", "offense_parent_group": "HOMICIDE",
		 "offense": "victim injured, died at hospital"},
		{"report_number": "4", "offense_date": "2026-05-01T00:00:00", "offense_parent_group": "ASSAULT OFFENSES",
		 "offense": "aggravated assault with firearm"}
	]`)

	batch, err := Transform(seattle, payload, classify.Default())
	require.NoError(t, err)
	require.Len(t, batch.Incidents, 4)

	tests := []struct {
		sourceID string
		typ      string
		severity int
	}{
		{"seattle_1", "arson", 4},
		{"seattle_2", "burglary", 3},
		{"seattle_3", "homicide", 5},
		{"seattle_4", "assault", 5},
	}
	for i, tt := range tests {
		inc := batch.Incidents[i]
		assert.Equal(t, tt.sourceID, inc.SourceID)
		assert.Equal(t, tt.typ, inc.IncidentType, inc.SourceID)
		assert.Equal(t, tt.severity, inc.Severity, inc.SourceID)
	}
}

func TestTransform_CompositeDate(t *testing.T) {
	t.Parallel()

	vancouver := config.CitySource{
		Key: "vancouver", Country: "Canada", CountryCode: "CA", State: "British Columbia", City: "Vancouver",
		FieldMap: config.FieldMap{
			ID: "row_id", Date: "year,month", Type: "type", Description: "type",
		},
		ResponsePath: "records",
	}
	payload := decode(t, `{"records": [{"row_id": 9, "year": 2026, "month": 3, "type": "Theft from Vehicle"}]}`)

	batch, err := Transform(vancouver, payload, classify.Default())
	require.NoError(t, err)
	require.Len(t, batch.Incidents, 1)
	inc := batch.Incidents[0]
	assert.Equal(t, "vancouver_9", inc.SourceID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), inc.IncidentDate)
	assert.Nil(t, inc.IncidentDatetime)
	assert.Equal(t, "theft", inc.IncidentType)
	assert.Equal(t, "CA", inc.CountryCode)
}

func TestTransform_UnexpectedShape(t *testing.T) {
	t.Parallel()

	_, err := Transform(chicago, decode(t, `{"error": "quota"}`), classify.Default())
	assert.ErrorIs(t, err, provider.ErrUnexpectedShape)
}

func TestStatusName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "city_chicago", StatusName(chicago))
}
