package api_test

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/activation"
	"github.com/penguinwhisk/controller/internal/api"
	"github.com/penguinwhisk/controller/internal/broker"
	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/metrics"
	"github.com/penguinwhisk/controller/internal/orchestrator"
	"github.com/penguinwhisk/controller/internal/scheduler"
	"github.com/penguinwhisk/controller/internal/store"
)

type stubCodeStore struct{}

func (stubCodeStore) Bucket() string { return "actions" }

const (
	subjectUUID = "uuid-1"
	subjectKey  = "secret"
)

func basicAuth(uuid, key string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(uuid+":"+key))
}

var subjectCols = []string{"id", "name", "uuid", "key", "created_at"}

func expectSubject(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, uuid, key, created_at FROM subjects WHERE uuid = $1`)).
		WithArgs(subjectUUID).
		WillReturnRows(sqlmock.NewRows(subjectCols).
			AddRow(1, "guest", subjectUUID, subjectKey, time.Now()))
}

var namespaceCols = []string{"id", "name", "uuid", "owner_id", "description", "limits"}

func expectNamespace(mock sqlmock.Sqlmock, name string, ownerID int64) {
	mock.ExpectQuery(`SELECT .+ FROM namespaces WHERE name = \$1`).
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows(namespaceCols).
			AddRow(1, name, "ns-uuid", ownerID, "", []byte(`{"maxActions":50}`)))
}

var _ = Describe("HTTP facade", func() {
	var (
		db      *sql.DB
		mock    sqlmock.Sqlmock
		sched   *scheduler.Scheduler
		handler http.Handler
	)

	BeforeEach(func() {
		var err error
		db, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { db.Close() })

		sched = scheduler.New(scheduler.Options{
			Window: 30 * time.Second,
			Logger: zap.NewNop(),
		})

		registry := prometheus.NewRegistry()
		server := api.New(api.Options{
			Store:     store.NewWithDB(db, zap.NewNop()),
			Scheduler: sched,
			Metrics:   metrics.New(registry),
			Gatherer:  registry,
			Logger:    zap.NewNop(),
		})
		handler = server.Handler()
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	do := func(method, path, auth string, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	Describe("authentication", func() {
		It("rejects requests without credentials", func() {
			rec := do(http.MethodGet, "/api/v1/namespaces", "", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects a wrong key without revealing which part failed", func() {
			expectSubject(mock)
			rec := do(http.MethodGet, "/api/v1/namespaces", basicAuth(subjectUUID, "wrong"), "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))

			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["error"]).To(Equal("invalid credentials"))
		})

		It("serves health without credentials", func() {
			rec := do(http.MethodGet, "/health", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("namespaces", func() {
		It("lists the default alias ahead of owned namespaces", func() {
			expectSubject(mock)
			mock.ExpectQuery(`SELECT .+ FROM namespaces WHERE owner_id = \$1`).
				WithArgs(int64(1)).
				WillReturnRows(sqlmock.NewRows(namespaceCols).
					AddRow(1, "guest", "ns-uuid", 1, "", []byte("{}")))

			rec := do(http.MethodGet, "/api/v1/namespaces", basicAuth(subjectUUID, subjectKey), "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var names []string
			Expect(json.Unmarshal(rec.Body.Bytes(), &names)).To(Succeed())
			Expect(names).To(Equal([]string{"_", "guest"}))
		})

		It("resolves the underscore alias to the subject's namespace", func() {
			expectSubject(mock)
			expectNamespace(mock, "guest", 1)

			rec := do(http.MethodGet, "/api/v1/namespaces/_", basicAuth(subjectUUID, subjectKey), "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var doc map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &doc)).To(Succeed())
			Expect(doc["name"]).To(Equal("guest"))
		})

		It("forbids access to namespaces owned by someone else", func() {
			expectSubject(mock)
			expectNamespace(mock, "other", 99)

			rec := do(http.MethodGet, "/api/v1/namespaces/other", basicAuth(subjectUUID, subjectKey), "")
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("exposes namespace limits", func() {
			expectSubject(mock)
			expectNamespace(mock, "guest", 1)

			rec := do(http.MethodGet, "/api/v1/namespaces/guest/limits", basicAuth(subjectUUID, subjectKey), "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("maxActions"))
		})
	})

	Describe("triggers", func() {
		triggerCols := []string{"id", "namespace_id", "name", "version", "publish", "parameters", "annotations", "feed"}

		It("refuses to overwrite an existing trigger without the flag", func() {
			expectSubject(mock)
			expectNamespace(mock, "guest", 1)
			// The upsert re-resolves the namespace on its own path.
			expectNamespace(mock, "guest", 1)
			mock.ExpectQuery(`SELECT .+ FROM triggers`).
				WithArgs(int64(1), "events").
				WillReturnRows(sqlmock.NewRows(triggerCols).
					AddRow(5, 1, "events", "0.0.1", false, []byte("{}"), []byte("{}"), ""))

			rec := do(http.MethodPut, "/api/v1/namespaces/guest/triggers/events",
				basicAuth(subjectUUID, subjectKey), `{"version":"0.0.2"}`)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("rules", func() {
		It("rejects an unknown status value", func() {
			expectSubject(mock)
			expectNamespace(mock, "guest", 1)

			rec := do(http.MethodPost, "/api/v1/namespaces/guest/rules/myrule",
				basicAuth(subjectUUID, subjectKey), `{"status":"paused"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("requires trigger and action on create", func() {
			expectSubject(mock)
			expectNamespace(mock, "guest", 1)

			rec := do(http.MethodPut, "/api/v1/namespaces/guest/rules/myrule",
				basicAuth(subjectUUID, subjectKey), `{"trigger":"events"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("invokers", func() {
		It("reports registered invokers and aggregate capacity", func() {
			expectSubject(mock)
			sched.Observe(broker.Heartbeat{
				InvokerID: "invoker-0",
				Status:    "healthy",
				Capacity: broker.Capacity{
					TotalMemory:     8192,
					AvailableMemory: 4096,
					WarmContainers:  2,
				},
			})

			rec := do(http.MethodGet, "/api/v1/invokers", basicAuth(subjectUUID, subjectKey), "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var doc struct {
				Invokers []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"invokers"`
				Capacity broker.Capacity `json:"capacity"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &doc)).To(Succeed())
			Expect(doc.Invokers).To(HaveLen(1))
			Expect(doc.Invokers[0].ID).To(Equal("invoker-0"))
			Expect(doc.Capacity.AvailableMemory).To(Equal(4096))
		})
	})

	Describe("web actions", func() {
		actionCols := []string{"id", "namespace_id", "package_id", "name", "version", "publish", "exec", "limits", "parameters", "annotations", "code_hash"}

		It("hides actions that are not web-exported", func() {
			expectNamespace(mock, "guest", 1)
			mock.ExpectQuery(`SELECT .+ FROM actions WHERE namespace_id = \$1 AND package_id IS NULL`).
				WithArgs(int64(1), "hello").
				WillReturnRows(sqlmock.NewRows(actionCols).
					AddRow(3, 1, nil, "hello", "0.0.1", false,
						[]byte(`{"kind":"nodejs:20"}`),
						[]byte(`{"timeout":60000,"memory":256,"logs":10,"concurrency":1}`),
						[]byte("{}"), []byte("{}"), "deadbeef"))

			rec := do(http.MethodGet, "/api/v1/web/guest/default/hello.json", "", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("enforces the web action auth annotation", func() {
			expectNamespace(mock, "guest", 1)
			mock.ExpectQuery(`SELECT .+ FROM actions WHERE namespace_id = \$1 AND package_id IS NULL`).
				WithArgs(int64(1), "hello").
				WillReturnRows(sqlmock.NewRows(actionCols).
					AddRow(3, 1, nil, "hello", "0.0.1", false,
						[]byte(`{"kind":"nodejs:20"}`),
						[]byte(`{"timeout":60000,"memory":256,"logs":10,"concurrency":1}`),
						[]byte("{}"),
						[]byte(`{"web-export":true,"require-whisk-auth":"s3cret"}`),
						"deadbeef"))

			rec := do(http.MethodGet, "/api/v1/web/guest/default/hello.json", "", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects unknown response extensions", func() {
			rec := do(http.MethodGet, "/api/v1/web/guest/default/hello.xml", "", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		Context("with a full invocation pipeline", func() {
			var client *broker.Client

			BeforeEach(func() {
				server, err := miniredis.Run()
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(server.Close)

				client, err = broker.New(context.Background(), broker.Options{
					URL:    "redis://" + server.Addr(),
					MaxLen: 100,
					Logger: zap.NewNop(),
				})
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(client.Close)

				sched.Observe(broker.Heartbeat{
					InvokerID: "invoker-0",
					Status:    "healthy",
					Capacity: broker.Capacity{
						TotalMemory:       8192,
						AvailableMemory:   4096,
						SupportedRuntimes: []string{"nodejs:20"},
					},
				})

				st := store.NewWithDB(db, zap.NewNop())
				acts := activation.New(st, client, zap.NewNop())
				registry := prometheus.NewRegistry()
				m := metrics.New(registry)
				srv := api.New(api.Options{
					Store:        st,
					Orchestrator: orchestrator.New(st, stubCodeStore{}, client, sched, acts, m, zap.NewNop()),
					Scheduler:    sched,
					Activations:  acts,
					Metrics:      m,
					Gatherer:     registry,
					Logger:       zap.NewNop(),
				})
				handler = srv.Handler()
			})

			expectWebAction := func() {
				mock.ExpectQuery(`SELECT .+ FROM actions WHERE namespace_id = \$1 AND package_id IS NULL`).
					WithArgs(int64(1), "hello").
					WillReturnRows(sqlmock.NewRows(actionCols).
						AddRow(3, 1, nil, "hello", "0.0.1", false,
							[]byte(`{"kind":"nodejs:20"}`),
							[]byte(`{"timeout":60000,"memory":256,"logs":10,"concurrency":1}`),
							[]byte("{}"),
							[]byte(`{"web-export":true}`),
							"deadbeef"))
			}

			It("injects the trailing request path as __ow_path", func(sctx SpecContext) {
				// The handler resolves the action, then the invocation
				// resolves it again on its own path.
				expectNamespace(mock, "guest", 1)
				expectWebAction()
				expectNamespace(mock, "guest", 1)
				expectWebAction()
				mock.ExpectExec(`INSERT INTO activations`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE activations`).
					WillReturnResult(sqlmock.NewResult(0, 1))

				seen := make(chan broker.Invocation, 1)
				go func() {
					defer GinkgoRecover()
					var inv broker.Invocation
					Eventually(func() bool {
						msgs, err := client.ReadBlocking(sctx, broker.StreamInvocations, "0", 10*time.Millisecond, 1)
						if err != nil || len(msgs) == 0 {
							return false
						}
						inv, err = broker.ParseInvocation(msgs[0].Fields)
						return err == nil
					}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
					seen <- inv

					fields, err := broker.Result{
						ActivationID: inv.ActivationID,
						StatusCode:   200,
						Response:     entity.Response{Success: true, Result: map[string]any{"body": "ok"}},
					}.Fields()
					Expect(err).NotTo(HaveOccurred())
					_, err = client.Publish(sctx, broker.StreamResults, fields)
					Expect(err).NotTo(HaveOccurred())
				}()

				rec := do(http.MethodGet, "/api/v1/web/guest/default/hello.text/extra/bits", "", "")
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Body.String()).To(Equal("ok"))

				var inv broker.Invocation
				Eventually(seen).Should(Receive(&inv))
				Expect(inv.Params["__ow_path"]).To(Equal("/extra/bits"))
				Expect(inv.Params["__ow_method"]).To(Equal("get"))
			}, SpecTimeout(10*time.Second))
		})
	})
})
