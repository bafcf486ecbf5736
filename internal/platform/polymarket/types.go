package polymarket

import (
	"strings"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
)

// APIMarket mirrors the Gamma API market payload, limited to the fields the
// sync engine needs.
type APIMarket struct {
	ID          string `json:"id"`
	ConditionID string `json:"conditionId"`
	Slug        string `json:"slug"`
	Question    string `json:"question"`
	StartDate   string `json:"startDate"`
	CreatedAt   string `json:"createdAt"`
	Closed      bool   `json:"closed"`
}

// ToDomainMarket converts the API payload to a domain.Market. The start
// timestamp prefers the explicit startDate, falling back to createdAt; an
// unparseable or absent value leaves it at zero.
func (m *APIMarket) ToDomainMarket() domain.Market {
	return domain.Market{
		ID:          m.ID,
		ConditionID: strings.ToLower(m.ConditionID),
		Slug:        m.Slug,
		Question:    m.Question,
		StartDate:   firstTimestamp(m.StartDate, m.CreatedAt),
		Closed:      m.Closed,
	}
}

func firstTimestamp(candidates ...string) int64 {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, c); err == nil {
			return ts.Unix()
		}
	}
	return 0
}

// APITrade mirrors one element of the Data API /trades response.
type APITrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	TransactionHash string  `json:"transactionHash"`
}

// ToRawTrade converts the API payload to a raw trade. The condition id from
// the payload wins; markets that omit it inherit the queried one.
func (t *APITrade) ToRawTrade(conditionID string) domain.RawTrade {
	market := t.ConditionID
	if market == "" {
		market = conditionID
	}
	return domain.RawTrade{
		Timestamp:     t.Timestamp,
		Price:         t.Price,
		Size:          t.Size,
		TraderAddress: t.ProxyWallet,
		MarketID:      market,
		Side:          t.Side,
		TxHash:        t.TransactionHash,
	}
}
