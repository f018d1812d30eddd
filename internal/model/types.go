package model

import "time"

// Core domain types shared by the API, the job coordinator and the stores.

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Customer struct {
	ID     int     `json:"id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Demand int     `json:"demand"`
}

type VRPData struct {
	Depot     Coordinate `json:"depot"`
	Customers []Customer `json:"customers"`
}

// TotalDemand sums customer demand.
func (d VRPData) TotalDemand() int {
	total := 0
	for _, c := range d.Customers {
		total += c.Demand
	}
	return total
}

type OptimizationConfig struct {
	NumWolves          int     `json:"numWolves"`
	NumIterations      int     `json:"numIterations"`
	RandomSeed         *int64  `json:"randomSeed,omitempty"`
	VehicleCapacity    int     `json:"vehicleCapacity"`
	PenaltyCoefficient float64 `json:"penaltyCoefficient"`
	ProgressInterval   int     `json:"progressInterval,omitempty"`
}

type OptimizationRequest struct {
	Config  OptimizationConfig `json:"config"`
	VRPData VRPData            `json:"vrpData"`
}

// Datasets

type DatasetFormat string

const (
	FormatCSV       DatasetFormat = "csv"
	FormatJSON      DatasetFormat = "json"
	FormatTSPLIB    DatasetFormat = "tsplib"
	FormatVRP       DatasetFormat = "vrp"
	FormatGenerated DatasetFormat = "generated"
	FormatInline    DatasetFormat = "inline"
)

type DatasetMeta struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Format       DatasetFormat `json:"format"`
	NumCustomers int           `json:"numCustomers"`
	TotalDemand  int           `json:"totalDemand"`
	// Capacity is the vehicle capacity declared by the source file, if any.
	Capacity    int       `json:"capacity,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	FilePath    string    `json:"filePath,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Dataset struct {
	DatasetMeta
	Data VRPData `json:"vrpData"`
}

type DatasetCreate struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	VRPData     VRPData `json:"vrpData"`
}

type DatasetGenerateRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	NumCustomers  int     `json:"numCustomers,omitempty"`
	DemandLow     int     `json:"demandLow,omitempty"`
	DemandHigh    int     `json:"demandHigh,omitempty"`
	Seed          *int64  `json:"seed,omitempty"`
	CenterLat     float64 `json:"centerLat,omitempty"`
	CenterLng     float64 `json:"centerLng,omitempty"`
	Spread        float64 `json:"spread,omitempty"`
	Clusters      int     `json:"clusters,omitempty"`
	ClusterSpread float64 `json:"clusterSpread,omitempty"`
}

type IngestRequest struct {
	Paths     []string `json:"paths"`
	Overwrite bool     `json:"overwrite,omitempty"`
}

type IngestFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type IngestResponse struct {
	Ingested      []DatasetMeta   `json:"ingested"`
	Failed        []IngestFailure `json:"failed"`
	TotalIngested int             `json:"totalIngested"`
	TotalFailed   int             `json:"totalFailed"`
}

type ScanResponse struct {
	ScannedPaths []string     `json:"scannedPaths"`
	Found        []ScanResult `json:"foundDatasets"`
	TotalFound   int          `json:"totalFound"`
	TotalValid   int          `json:"totalValid"`
}

type ScanResult struct {
	Path         string        `json:"path"`
	Format       DatasetFormat `json:"format"`
	Name         string        `json:"name"`
	NumCustomers int           `json:"numCustomers"`
	TotalDemand  int           `json:"totalDemand"`
	Valid        bool          `json:"valid"`
	Error        string        `json:"error,omitempty"`
}

// Jobs

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type Job struct {
	ID          string             `json:"id"`
	DatasetID   string             `json:"datasetId"`
	Name        string             `json:"name,omitempty"`
	Status      JobStatus          `json:"status"`
	Config      OptimizationConfig `json:"config"`
	CreatedAt   time.Time          `json:"createdAt"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Error       string             `json:"errorMessage,omitempty"`
}

type JobCreate struct {
	DatasetID string             `json:"datasetId"`
	Name      string             `json:"name,omitempty"`
	Config    OptimizationConfig `json:"config"`
}

type JobFilter struct {
	DatasetID string
	Status    JobStatus
	Skip      int
	Limit     int
}

type TracePoint struct {
	Iteration int     `json:"iteration"`
	Fitness   float64 `json:"fitness"`
}

type RouteInfo struct {
	Route    []int   `json:"route"`
	Distance float64 `json:"distance"`
	Load     int     `json:"load"`
}

type JobResult struct {
	JobID              string       `json:"jobId"`
	Routes             [][]int      `json:"routes"`
	BestFitness        float64      `json:"bestFitness"`
	ConvergenceHistory []TracePoint `json:"convergenceHistory"`
	Runtime            float64      `json:"runtimeSeconds"`
	RouteDetails       []RouteInfo  `json:"routeDetails,omitempty"`
}

type JobResponse struct {
	Job    Job        `json:"job"`
	Result *JobResult `json:"result,omitempty"`
}

// Streaming messages

type ProgressUpdate struct {
	Iteration   int     `json:"iter"`
	BestFitness float64 `json:"best_fitness"`
}

type FinalResult struct {
	Done         bool        `json:"done"`
	Routes       [][]int     `json:"routes"`
	BestFitness  float64     `json:"best_fitness"`
	Runtime      float64     `json:"runtime"`
	RouteDetails []RouteInfo `json:"route_details,omitempty"`
}

// Webhook subscriptions

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
