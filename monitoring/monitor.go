// Package monitoring turns a running bus into a web server so that its state
// can be inspected while traffic flows.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/monitoring/web"
	"github.com/sarchlab/arbus/sim"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves the state of a bus and of the devices around it over HTTP.
type Monitor struct {
	bus        *bus.Bus
	components []sim.Named
	portNumber int
	idGen      sim.IDGenerator

	listener net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		idGen: sim.NewSequentialIDGenerator("Progress"),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 && portNumber != 0 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterBus registers the bus to be monitored.
func (m *Monitor) RegisterBus(b *bus.Bus) {
	m.bus = b
}

// RegisterComponent registers a device to be inspected.
func (m *Monitor) RegisterComponent(c sim.Named) {
	m.components = append(m.components, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.idGen.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitoring API and the web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	fs := web.GetAssets()
	fServer := http.FileServer(fs)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/bus", m.busState)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(fServer)

	return r
}

// StartServer starts the monitor as a web server with a custom port if wanted.
func (m *Monitor) StartServer() {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener

	fmt.Fprintf(os.Stderr, "Monitoring bus with %s\n", m.URL())

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Panic(err)
		}
	}()
}

// URL returns the address of the running server, or an empty string if the
// server is not started.
func (m *Monitor) URL() string {
	if m.listener == nil {
		return ""
	}

	return fmt.Sprintf("http://localhost:%d",
		m.listener.Addr().(*net.TCPAddr).Port)
}

// OpenBrowser opens the monitoring page in the default browser.
func (m *Monitor) OpenBrowser() error {
	if m.listener == nil {
		return errors.New("monitoring server is not started")
	}

	return browser.OpenURL(m.URL())
}

// StopServer closes the listener of the server.
func (m *Monitor) StopServer() error {
	if m.listener == nil {
		return nil
	}

	err := m.listener.Close()
	m.listener = nil

	return err
}

func (m *Monitor) busOr404(w http.ResponseWriter) *bus.Bus {
	if m.bus == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("No bus registered"))
		dieOnErr(err)
	}

	return m.bus
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	b := m.busOr404(w)
	if b == nil {
		return
	}

	fmt.Fprintf(w, "{\"now\":%.10f}", b.CurrentTime())
}

type transactionRsp struct {
	ID        string `json:"id"`
	MasterID  int    `json:"master_id"`
	Address   uint64 `json:"address"`
	Op        string `json:"op"`
	Length    uint32 `json:"length"`
	Remaining uint32 `json:"remaining"`
}

type busRsp struct {
	Name         string          `json:"name"`
	Now          float64         `json:"now"`
	Cycle        uint64          `json:"cycle"`
	Arbiter      string          `json:"arbiter"`
	Cursor       int             `json:"cursor"`
	Active       *transactionRsp `json:"active"`
	Acknowledged bool            `json:"acknowledged"`
	Masters      []string        `json:"masters"`
	QueueDepths  []int           `json:"queue_depths"`
}

func (m *Monitor) busState(w http.ResponseWriter, _ *http.Request) {
	b := m.busOr404(w)
	if b == nil {
		return
	}

	s := b.State()
	rsp := busRsp{
		Name:         b.Name(),
		Now:          float64(s.Now),
		Cycle:        s.Cycle,
		Arbiter:      s.Arbiter.String(),
		Cursor:       s.Cursor,
		Acknowledged: s.Acknowledged,
		Masters:      s.Masters,
		QueueDepths:  s.QueueDepths,
	}

	if s.Active != nil {
		rsp.Active = &transactionRsp{
			ID:        s.Active.ID,
			MasterID:  s.Active.MasterID,
			Address:   uint64(s.Active.Address),
			Op:        s.Active.Op.String(),
			Length:    s.Active.Length,
			Remaining: s.Active.Remaining,
		}
	}

	writeJSON(w, rsp)
}

type statsRsp struct {
	Requests        uint64   `json:"requests"`
	Grants          uint64   `json:"grants"`
	Retired         uint64   `json:"retired"`
	Words           uint64   `json:"words"`
	Faults          uint64   `json:"faults"`
	GrantsPerMaster []uint64 `json:"grants_per_master"`
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	b := m.busOr404(w)
	if b == nil {
		return
	}

	s := b.Stats()
	writeJSON(w, statsRsp{
		Requests:        s.Requests,
		Grants:          s.Grants,
		Retired:         s.Retired,
		Words:           s.Words,
		Faults:          s.Faults,
		GrantsPerMaster: s.GrantsPerMaster,
	})
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	b := m.busOr404(w)
	if b == nil {
		return
	}

	sortMethod, limit, offset, err := m.buffersParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	levels := sortAndSelectQueues(b.QueueLevels(), sortMethod, limit, offset)

	fmt.Fprintf(w, "[")
	for i, l := range levels {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "{\"buffer\":\"%s\",\"level\":%d,\"cap\":%d}",
			l.Name, l.Size, l.Capacity)
	}

	fmt.Fprint(w, "]")
}

func (*Monitor) buffersParseParams(
	r *http.Request,
) (sort string, limit, offset int, err error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}
	if sortMethod != "level" && sortMethod != "percent" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limitNumber, err := strconv.Atoi(limitStr)
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offsetNumber, err := strconv.Atoi(offsetStr)
	if err != nil {
		return sortMethod, limitNumber, 0, err
	}

	return sortMethod, limitNumber, offsetNumber, nil
}

// queuePercent treats an unbounded queue as never full.
func queuePercent(l bus.QueueLevel) float64 {
	if l.Capacity == 0 {
		return 0
	}

	return float64(l.Size) / float64(l.Capacity)
}

// sortAndSelectQueues orders the queues by level or by fill percentage,
// fullest first, and returns the page [offset, offset+limit). A limit of 0
// means no limit.
func sortAndSelectQueues(
	levels []bus.QueueLevel,
	sortMethod string,
	limit, offset int,
) []bus.QueueLevel {
	sorted := make([]bus.QueueLevel, len(levels))
	copy(sorted, levels)

	switch sortMethod {
	case "level":
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Size != sorted[j].Size {
				return sorted[i].Size > sorted[j].Size
			}

			return queuePercent(sorted[i]) > queuePercent(sorted[j])
		})
	case "percent":
		sort.SliceStable(sorted, func(i, j int) bool {
			percentI := queuePercent(sorted[i])
			percentJ := queuePercent(sorted[j])

			if percentI != percentJ {
				return percentI > percentJ
			}

			return sorted[i].Size > sorted[j].Size
		})
	default:
		panic("Invalid sort method " + sortMethod)
	}

	if offset > len(sorted) {
		offset = len(sorted)
	}

	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return sorted[offset:end]
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) sim.Named {
	var component sim.Named
	for _, c := range m.components {
		if c.Name() == name {
			component = c
		}
	}

	if component == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Component not found"))
		dieOnErr(err)
	}

	return component
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
