package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	keeperv1 "github.com/kination/alkeeper/api/v1"
	"github.com/kination/alkeeper/internal/vault"
	"github.com/kination/alkeeper/internal/vault/vaulttest"
)

var _ = Describe("Keeper Controller", func() {
	const (
		name      = "test-keeper"
		namespace = "default"
	)

	var (
		ctx        context.Context
		c          client.Client
		reconciler *KeeperReconciler
		transmuter *vaulttest.Fake
		alchemist  *vaulttest.Fake
		now        time.Time
		key        = types.NamespacedName{Name: name, Namespace: namespace}
	)

	newKeeper := func(mutate func(*keeperv1.Keeper)) *keeperv1.Keeper {
		kp := &keeperv1.Keeper{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			Spec: keeperv1.KeeperSpec{
				Transmuter: "transmuter",
				Alchemist:  "alchemist",
				Interval:   &metav1.Duration{Duration: 30 * time.Second},
			},
		}
		if mutate != nil {
			mutate(kp)
		}
		return kp
	}

	setup := func(kp *keeperv1.Keeper, funcs ...interceptor.Funcs) {
		b := fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(kp).
			WithStatusSubresource(&keeperv1.Keeper{})
		for _, f := range funcs {
			b = b.WithInterceptorFuncs(f)
		}
		c = b.Build()

		vaults := vault.NewRegistry()
		vaults.Register("transmuter", transmuter)
		vaults.Register("alchemist", alchemist)

		reconciler = &KeeperReconciler{
			Client: c,
			Scheme: scheme,
			Vaults: vaults,
			Clock:  func() time.Time { return now },
		}
	}

	reconcile := func() (ctrl.Result, error) {
		return reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: key})
	}

	fetch := func() *keeperv1.Keeper {
		var kp keeperv1.Keeper
		Expect(c.Get(ctx, key, &kp)).To(Succeed())
		return &kp
	}

	BeforeEach(func() {
		ctx = context.Background()
		transmuter = &vaulttest.Fake{}
		alchemist = &vaulttest.Fake{}
		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	})

	Context("When the first slot is admissible", func() {
		BeforeEach(func() {
			transmuter.Yield = 10
			setup(newKeeper(nil))
		})

		It("should harvest the transmuter and advance the rotation", func() {
			result, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(30 * time.Second))

			harvests, _ := transmuter.Calls()
			Expect(harvests).To(Equal(1))

			kp := fetch()
			Expect(kp.Status.CurrentTaskIndex).To(Equal(int32(1)))
			Expect(kp.Status.LastTask).To(Equal("HarvestTransmuter"))
			Expect(kp.Status.LastOutcome).To(Equal(keeperv1.OutcomePerformed))
			Expect(kp.Status.PerformedCount).To(Equal(int64(1)))
			Expect(kp.Status.LastPerformTime).NotTo(BeNil())

			cond := meta.FindStatusCondition(kp.Status.Conditions, keeperv1.ConditionReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Status).To(Equal(metav1.ConditionTrue))
			Expect(cond.Reason).To(Equal(keeperv1.ReasonPerformed))
		})

		It("should trace the perform with the configured tracer", func() {
			tracer := &recordingTracer{}
			reconciler.Tracer = tracer

			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(tracer.Spans()).To(ConsistOf("keeper.perform"))
		})

		It("should wait for the interval before the next round", func() {
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(10 * time.Second)
			result, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(20 * time.Second))
			Expect(fetch().Status.CurrentTaskIndex).To(Equal(int32(1)))
		})
	})

	Context("When slots are not admissible", func() {
		BeforeEach(func() {
			transmuter.Paused = true
			transmuter.Yield = 10
			setup(newKeeper(nil))
		})

		It("should skip and still advance", func() {
			_, err := reconcile()
			Expect(err).NotTo(HaveOccurred())

			harvests, _ := transmuter.Calls()
			Expect(harvests).To(Equal(0))

			kp := fetch()
			Expect(kp.Status.CurrentTaskIndex).To(Equal(int32(1)))
			Expect(kp.Status.LastOutcome).To(Equal(keeperv1.OutcomeSkipped))
			Expect(kp.Status.SkippedCount).To(Equal(int64(1)))
		})

		It("should wrap around after three rounds", func() {
			for i := 0; i < 3; i++ {
				_, err := reconcile()
				Expect(err).NotTo(HaveOccurred())
				now = now.Add(time.Minute)
			}
			kp := fetch()
			Expect(kp.Status.CurrentTaskIndex).To(Equal(int32(0)))
			Expect(kp.Status.SkippedCount).To(Equal(int64(3)))
		})
	})

	Context("When the collaborator fails", func() {
		BeforeEach(func() {
			transmuter.Yield = 10
			transmuter.HarvestErr = errors.New("harvest reverted")
			setup(newKeeper(nil))
		})

		It("should keep the rotation on the failed slot", func() {
			_, err := reconcile()
			Expect(err).To(HaveOccurred())

			kp := fetch()
			Expect(kp.Status.CurrentTaskIndex).To(Equal(int32(0)))
			Expect(kp.Status.LastOutcome).To(Equal(keeperv1.OutcomeFailed))
			Expect(kp.Status.LastPerformTime).To(BeNil())

			cond := meta.FindStatusCondition(kp.Status.Conditions, keeperv1.ConditionReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(keeperv1.ReasonPerformFailed))

			transmuter.Set(func(f *vaulttest.Fake) { f.HarvestErr = nil })
			_, err = reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(fetch().Status.CurrentTaskIndex).To(Equal(int32(1)))
		})
	})

	Context("When the status write conflicts", func() {
		BeforeEach(func() {
			transmuter.Yield = 10
			setup(newKeeper(nil), interceptor.Funcs{
				SubResourceUpdate: func(ctx context.Context, cl client.Client, sub string, obj client.Object, opts ...client.SubResourceUpdateOption) error {
					return apierrors.NewConflict(
						schema.GroupResource{Group: keeperv1.GroupVersion.Group, Resource: "keepers"},
						obj.GetName(), errors.New("the object has been modified"))
				},
			})
		})

		It("should return the conflict and leave the stored rotation in place", func() {
			_, err := reconcile()
			Expect(err).To(HaveOccurred())
			Expect(apierrors.IsConflict(err)).To(BeTrue())

			kp := fetch()
			Expect(kp.Status.CurrentTaskIndex).To(Equal(int32(0)))
			Expect(kp.Status.LastOutcome).To(BeEmpty())
			Expect(kp.Status.LastPerformTime).To(BeNil())
		})
	})

	Context("When the keeper is suspended", func() {
		BeforeEach(func() {
			transmuter.Yield = 10
			setup(newKeeper(func(kp *keeperv1.Keeper) { kp.Spec.Suspend = true }))
		})

		It("should not perform", func() {
			result, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))

			harvests, _ := transmuter.Calls()
			Expect(harvests).To(Equal(0))

			cond := meta.FindStatusCondition(fetch().Status.Conditions, keeperv1.ConditionReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(keeperv1.ReasonSuspended))
		})
	})

	Context("When a vault is not registered", func() {
		BeforeEach(func() {
			setup(newKeeper(func(kp *keeperv1.Keeper) { kp.Spec.Alchemist = "missing" }))
		})

		It("should report VaultNotFound and requeue", func() {
			result, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(30 * time.Second))

			kp := fetch()
			Expect(kp.Status.CurrentTaskIndex).To(Equal(int32(0)))
			cond := meta.FindStatusCondition(kp.Status.Conditions, keeperv1.ConditionReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(keeperv1.ReasonVaultNotFound))
		})
	})

	Context("When the keeper does not exist", func() {
		BeforeEach(func() {
			setup(newKeeper(nil))
			Expect(c.Delete(ctx, fetch())).To(Succeed())
		})

		It("should ignore the request", func() {
			result, err := reconcile()
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
		})
	})
})

// recordingTracer remembers the names of the spans it starts
type recordingTracer struct {
	noop.Tracer

	mu    sync.Mutex
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func (r *recordingTracer) Spans() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}
