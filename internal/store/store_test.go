package store_test

import (
	"context"
	"database/sql"
	"regexp"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/store"
	"github.com/penguinwhisk/controller/internal/werr"
)

var namespaceCols = []string{"id", "name", "uuid", "owner_id", "description", "limits"}

func guestRow() *sqlmock.Rows {
	return sqlmock.NewRows(namespaceCols).
		AddRow(1, "guest", "uuid-1", 1, "", []byte("{}"))
}

func expectGuest(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, uuid, owner_id, description, limits FROM namespaces WHERE name = $1`)).
		WithArgs("guest").
		WillReturnRows(guestRow())
}

var _ = Describe("Entity store", func() {
	var (
		ctx  context.Context
		db   *sql.DB
		mock sqlmock.Sqlmock
		st   *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		st = store.NewWithDB(db, zap.NewNop())
		DeferCleanup(func() { db.Close() })
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("namespaces", func() {
		It("resolves a namespace by name", func() {
			expectGuest(mock)

			ns, err := st.ResolveNamespace(ctx, "guest")
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.ID).To(Equal(int64(1)))
			Expect(ns.Name).To(Equal("guest"))
		})

		It("classifies a missing namespace as not found", func() {
			mock.ExpectQuery(`SELECT .+ FROM namespaces`).
				WithArgs("ghost").
				WillReturnError(sql.ErrNoRows)

			_, err := st.ResolveNamespace(ctx, "ghost")
			Expect(werr.IsKind(err, werr.KindNotFound)).To(BeTrue())
		})

		It("classifies a duplicate create as conflict", func() {
			mock.ExpectQuery(`INSERT INTO namespaces`).
				WithArgs("guest", "uuid-1", int64(1), "", []byte("{}")).
				WillReturnError(sql.ErrNoRows)

			err := st.CreateNamespace(ctx, &entity.Namespace{
				Name: "guest", UUID: "uuid-1", OwnerID: 1, Limits: entity.Params{},
			})
			Expect(werr.IsKind(err, werr.KindConflict)).To(BeTrue())
		})
	})

	Describe("packages", func() {
		packageCols := []string{"id", "namespace_id", "name", "version", "publish", "parameters", "annotations", "binding"}

		It("refuses to overwrite an existing package without the flag", func() {
			expectGuest(mock)
			mock.ExpectQuery(`SELECT .+ FROM packages`).
				WithArgs(int64(1), "utils").
				WillReturnRows(sqlmock.NewRows(packageCols).
					AddRow(7, 1, "utils", "0.0.1", false, []byte("{}"), []byte("{}"), nil))

			err := st.UpsertPackage(ctx, "guest", &entity.Package{Name: "utils"}, false)
			Expect(werr.IsKind(err, werr.KindConflict)).To(BeTrue())
		})

		It("refuses to delete a non-empty package without force", func() {
			expectGuest(mock)
			mock.ExpectQuery(`SELECT .+ FROM packages`).
				WithArgs(int64(1), "utils").
				WillReturnRows(sqlmock.NewRows(packageCols).
					AddRow(7, 1, "utils", "0.0.1", false, []byte("{}"), []byte("{}"), nil))
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM actions WHERE package_id = $1`)).
				WithArgs(int64(7)).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

			err := st.DeletePackage(ctx, "guest", "utils", false)
			Expect(werr.IsKind(err, werr.KindConflict)).To(BeTrue())
		})

		It("folds binding parameters in as defaults", func() {
			expectGuest(mock)
			// The binding package in guest points at shared/common.
			mock.ExpectQuery(`SELECT .+ FROM packages`).
				WithArgs(int64(1), "mybind").
				WillReturnRows(sqlmock.NewRows(packageCols).
					AddRow(7, 1, "mybind", "0.0.1", false,
						[]byte(`{"name":"override"}`), []byte("{}"),
						[]byte(`{"namespace":"shared","name":"common"}`)))
			mock.ExpectQuery(`SELECT .+ FROM namespaces`).
				WithArgs("shared").
				WillReturnRows(sqlmock.NewRows(namespaceCols).
					AddRow(2, "shared", "uuid-2", 1, "", []byte("{}")))
			mock.ExpectQuery(`SELECT .+ FROM packages`).
				WithArgs(int64(2), "common").
				WillReturnRows(sqlmock.NewRows(packageCols).
					AddRow(9, 2, "common", "0.0.1", true,
						[]byte(`{"name":"default","greeting":"hello"}`), []byte("{}"), nil))

			pkg, err := st.ResolvePackage(ctx, "guest", "mybind")
			Expect(err).NotTo(HaveOccurred())
			Expect(pkg.Parameters["name"]).To(Equal("override"))
			Expect(pkg.Parameters["greeting"]).To(Equal("hello"))
		})
	})

	Describe("activations", func() {
		It("finalizes a pending activation exactly once", func() {
			mock.ExpectExec(`UPDATE activations`).
				WithArgs(int64(1700000060000), 200, []byte(`{"success":true,"result":{"ok":true}}`), []byte(`["line"]`), "act-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			updated, err := st.FinalizeActivation(ctx, "act-1", 1700000060000, 200,
				&entity.Response{Success: true, Result: map[string]any{"ok": true}},
				[]string{"line"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeTrue())
		})

		It("merges result annotations into the stored bag", func() {
			mock.ExpectExec(`UPDATE activations\s+SET .+ annotations = annotations \|\| \$6::jsonb`).
				WithArgs(int64(1700000060000), 200, []byte(`{"success":true,"result":null}`), []byte(`[]`), "act-1", []byte(`{"waitTime":12}`)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			updated, err := st.FinalizeActivation(ctx, "act-1", 1700000060000, 200,
				nil, nil, entity.Params{"waitTime": 12})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeTrue())
		})

		It("reports false when the activation is already finalized", func() {
			mock.ExpectExec(`UPDATE activations`).
				WillReturnResult(sqlmock.NewResult(0, 0))

			updated, err := st.FinalizeActivation(ctx, "act-1", 1700000060000, 200, nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeFalse())
		})
	})

	Describe("actions", func() {
		actionCols := []string{"id", "namespace_id", "package_id", "name", "version", "publish", "exec", "limits", "parameters", "annotations", "code_hash"}

		It("resolves a namespace-level action with denormalized names", func() {
			expectGuest(mock)
			mock.ExpectQuery(`SELECT .+ FROM actions WHERE namespace_id = \$1 AND package_id IS NULL`).
				WithArgs(int64(1), "hello").
				WillReturnRows(sqlmock.NewRows(actionCols).
					AddRow(3, 1, nil, "hello", "0.0.1", false,
						[]byte(`{"kind":"nodejs:20"}`),
						[]byte(`{"timeout":60000,"memory":256,"logs":10,"concurrency":1}`),
						[]byte("{}"), []byte("{}"), "deadbeef"))

			action, err := st.ResolveAction(ctx, "guest", "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(action.Namespace).To(Equal("guest"))
			Expect(action.Exec.Kind).To(Equal("nodejs:20"))
			Expect(action.FQN()).To(Equal("/guest/hello"))
		})
	})
})
