package tracing

import (
	"context"
	"database/sql"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/arbus/datarecording"
	"github.com/sarchlab/arbus/sim"
	"go.uber.org/mock/gomock"
)

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		db         *sql.DB
		tracer     *DBTracer
		reader     *TraceReader
	)

	BeforeEach(func() {
		var err error

		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)

		path := filepath.Join(GinkgoT().TempDir(), "trace.sqlite3")
		db, err = sql.Open("sqlite3", path)
		Expect(err).NotTo(HaveOccurred())

		tracer = NewDBTracer(timeTeller, datarecording.NewWithDB(db))
		reader = NewTraceReader(datarecording.NewReaderWithDB(db))
	})

	AfterEach(func() {
		mockCtrl.Finish()
		db.Close()
	})

	at := func(now sim.VTimeInSec) {
		timeTeller.EXPECT().CurrentTime().Return(now)
	}

	busTask := func(id string) Task {
		return Task{
			ID:       id,
			Kind:     "bus_transaction",
			What:     "BurstRead",
			Location: "Bus",
		}
	}

	It("should panic on an incomplete task", func() {
		Expect(func() { tracer.StartTask(Task{ID: "1"}) }).To(Panic())
	})

	It("should write completed tasks with their steps", func() {
		at(1)
		tracer.StartTask(busTask("Bus.Txn1"))
		at(2)
		tracer.StepTask(Task{ID: "Bus.Txn1", Steps: []TaskStep{{What: "grant"}}})
		at(4)
		tracer.StepTask(Task{ID: "Bus.Txn1", Steps: []TaskStep{{What: "word"}}})
		at(5)
		tracer.EndTask(Task{ID: "Bus.Txn1"})

		at(6)
		tracer.StartTask(busTask("Bus.Txn2"))
		tracer.Terminate()

		tasks, err := reader.ListTasks(context.Background(),
			TaskQuery{Kind: "bus_transaction", WithSteps: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).To(HaveLen(1))

		task := tasks[0]
		Expect(task.ID).To(Equal("Bus.Txn1"))
		Expect(task.What).To(Equal("BurstRead"))
		Expect(task.StartTime).To(Equal(sim.VTimeInSec(1)))
		Expect(task.EndTime).To(Equal(sim.VTimeInSec(5)))
		Expect(task.Steps).To(Equal([]TaskStep{
			{Time: 2, What: "grant"},
			{Time: 4, What: "word"},
		}))

		components, err := reader.ListComponents(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(components).To(Equal([]string{"Bus"}))
	})

	It("should only keep tasks within the time range", func() {
		tracer.SetTimeRange(2, 4)

		at(0)
		tracer.StartTask(busTask("Bus.Txn1"))
		at(1)
		tracer.EndTask(Task{ID: "Bus.Txn1"})

		at(3)
		tracer.StartTask(busTask("Bus.Txn2"))
		at(3.5)
		tracer.EndTask(Task{ID: "Bus.Txn2"})

		at(5)
		tracer.StartTask(busTask("Bus.Txn3"))

		tracer.Terminate()

		tasks, err := reader.ListTasks(context.Background(), TaskQuery{})
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).To(HaveLen(1))
		Expect(tasks[0].ID).To(Equal("Bus.Txn2"))
	})

	It("should select tasks by time range", func() {
		at(1)
		tracer.StartTask(busTask("Bus.Txn1"))
		at(2)
		tracer.EndTask(Task{ID: "Bus.Txn1"})
		at(10)
		tracer.StartTask(busTask("Bus.Txn2"))
		at(12)
		tracer.EndTask(Task{ID: "Bus.Txn2"})
		tracer.Terminate()

		tasks, err := reader.ListTasks(context.Background(), TaskQuery{
			EnableTimeRange: true,
			StartTime:       9,
			EndTime:         11,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).To(HaveLen(1))
		Expect(tasks[0].ID).To(Equal("Bus.Txn2"))
	})
})
