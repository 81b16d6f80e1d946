package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leslieo2/depwatch/internal/health"
)

const clusterHealthPath = "/_cluster/health"

type clusterHealth struct {
	ClusterName   string `json:"cluster_name"`
	Status        string `json:"status"`
	NumberOfNodes int    `json:"number_of_nodes"`
}

// Search checks an OpenSearch or Elasticsearch cluster.
type Search struct {
	client   *http.Client
	endpoint string
	username string
	password string
}

func NewSearch(endpoint, username, password string, timeout time.Duration) *Search {
	return &Search{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(endpoint, "/"),
		username: username,
		password: password,
	}
}

func (p *Search) Check(ctx context.Context) (health.Record, error) {
	var ch clusterHealth
	if err := getJSON(ctx, p.client, p.endpoint+clusterHealthPath, p.username, p.password, &ch); err != nil {
		return health.Record{}, err
	}
	if ch.Status == "" {
		return health.Record{}, fmt.Errorf("cluster health response has no status")
	}

	status := health.StatusDegraded
	if strings.EqualFold(ch.Status, "green") {
		status = health.StatusHealthy
	}
	return health.Record{
		Status: status,
		Detail: fmt.Sprintf("cluster=%s status=%s nodes=%d", ch.ClusterName, strings.ToLower(ch.Status), ch.NumberOfNodes),
	}, nil
}
