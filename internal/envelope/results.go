package envelope

// Correlation carries the identifiers fixed when a request is accepted.
// Every on-* payload echoes both.
type Correlation struct {
	TransactionID string
	CorrelationID string
}

type SearchResult struct {
	TransactionID  string           `json:"transaction_id"`
	CorrelationID  string           `json:"correlation_id"`
	SearchResponse []SearchResponse `json:"search_response"`
}

type SearchResponse struct {
	ReferenceID string     `json:"reference_id"`
	Timestamp   string     `json:"timestamp"`
	Status      string     `json:"status"`
	Data        SearchData `json:"data"`
}

type SearchData struct {
	Version       string `json:"version"`
	RegType       string `json:"reg_type"`
	RegRecordType string `json:"reg_record_type"`
	RegRecords    []any  `json:"reg_records"`
}

type TxnStatusResult struct {
	TransactionID     string            `json:"transaction_id"`
	CorrelationID     string            `json:"correlation_id"`
	TxnStatusResponse TxnStatusResponse `json:"txnstatus_response"`
}

type TxnStatusResponse struct {
	TxnType   string    `json:"txn_type"`
	TxnStatus TxnStatus `json:"txn_status"`
}

type TxnStatus struct {
	TransactionID  string           `json:"transaction_id"`
	CorrelationID  string           `json:"correlation_id"`
	SearchResponse []SearchResponse `json:"search_response"`
}

type SubscribeResult struct {
	TransactionID     string              `json:"transaction_id"`
	CorrelationID     string              `json:"correlation_id"`
	SubscribeResponse []SubscribeResponse `json:"subscribe_response"`
}

type SubscribeResponse struct {
	ReferenceID   string         `json:"reference_id"`
	Timestamp     string         `json:"timestamp"`
	Status        string         `json:"status"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type Subscription struct {
	Code      string `json:"code"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

type UnsubscribeResult struct {
	TransactionID      string         `json:"transaction_id"`
	CorrelationID      string         `json:"correlation_id"`
	Timestamp          string         `json:"timestamp"`
	Status             string         `json:"status"`
	SubscriptionStatus []Subscription `json:"subscription_status"`
}

// UnsubscribedCode is the fixed subscription code echoed by on-unsubscribe.
const UnsubscribedCode = "sub-test-001"

func (b *Builder) SearchResult(d Domain, c Correlation) SearchResult {
	return SearchResult{
		TransactionID: c.TransactionID,
		CorrelationID: c.CorrelationID,
		SearchResponse: []SearchResponse{{
			ReferenceID: "ref-" + b.NewID(),
			Timestamp:   b.Now(),
			Status:      StatusSuccess,
			Data: SearchData{
				Version:       Version,
				RegType:       d.RegistryType,
				RegRecordType: d.RecordType,
				RegRecords:    []any{},
			},
		}},
	}
}

func (b *Builder) TxnStatusResult(_ Domain, c Correlation) TxnStatusResult {
	return TxnStatusResult{
		TransactionID: c.TransactionID,
		CorrelationID: c.CorrelationID,
		TxnStatusResponse: TxnStatusResponse{
			TxnType: "search",
			TxnStatus: TxnStatus{
				TransactionID:  c.TransactionID,
				CorrelationID:  c.CorrelationID,
				SearchResponse: []SearchResponse{},
			},
		},
	}
}

func (b *Builder) SubscribeResult(_ Domain, c Correlation) SubscribeResult {
	return SubscribeResult{
		TransactionID: c.TransactionID,
		CorrelationID: c.CorrelationID,
		SubscribeResponse: []SubscribeResponse{{
			ReferenceID: "ref-" + b.NewID(),
			Timestamp:   b.Now(),
			Status:      StatusSuccess,
			Subscriptions: []Subscription{{
				Code:      "sub-" + b.NewID(),
				Status:    "subscribe",
				Timestamp: b.Now(),
			}},
		}},
	}
}

func (b *Builder) UnsubscribeResult(_ Domain, c Correlation) UnsubscribeResult {
	return UnsubscribeResult{
		TransactionID:      c.TransactionID,
		CorrelationID:      c.CorrelationID,
		Timestamp:          b.Now(),
		Status:             StatusSuccess,
		SubscriptionStatus: []Subscription{{Code: UnsubscribedCode, Status: "unsubscribe"}},
	}
}
