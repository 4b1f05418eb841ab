// Package executor turns a dispatched item into real work: a Kubernetes
// Job running in the item's client's tenant namespace. This is the
// "downstream resource" the dispatcher's clients are actually queuing for
// (SPEC_FULL §6, §11); the dispatch packages themselves never import it.
package executor

import (
	"context"
	"fmt"
	"os"

	"github.com/aresqos/qosd/pkg/logger"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sClient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Spec describes the Kubernetes Job a dispatched item should run as.
type Spec struct {
	Name      string
	Client    string // tenant, used as the Job's namespace unless Namespace is set
	Namespace string
	Image     string
	Command   []string
	Env       map[string]string
	CPUMillis int64
	MemoryMB  int64
}

// Status is a point-in-time view of a submitted Job.
type Status struct {
	Name      string
	Namespace string
	Active    int32
	Succeeded int32
	Failed    int32
}

// Executor submits dispatched items as Kubernetes Jobs.
type Executor struct {
	clientset    k8sClient.Interface
	namespace    string
	log          *logger.Logger
}

// New builds an Executor, trying in-cluster config first and falling back
// to kubeconfigPath (or $KUBECONFIG, or ~/.kube/config) for local
// development, matching the teacher's client bootstrap.
func New(kubeconfigPath, namespace string) (*Executor, error) {
	log := logger.Get()

	config, err := rest.InClusterConfig()
	if err != nil {
		path := kubeconfigPath
		if path == "" {
			path = os.Getenv("KUBECONFIG")
		}
		if path == "" {
			path = fmt.Sprintf("%s/.kube/config", os.Getenv("HOME"))
		}
		config, err = clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("executor: build kubeconfig: %w", err)
		}
	}

	clientset, err := k8sClient.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("executor: build clientset: %w", err)
	}

	if namespace == "" {
		namespace = "default"
	}

	log.Info("executor connected to kubernetes, default namespace %s", namespace)
	return &Executor{clientset: clientset, namespace: namespace, log: log}, nil
}

func (e *Executor) namespaceFor(spec Spec) string {
	if spec.Namespace != "" {
		return spec.Namespace
	}
	if spec.Client != "" {
		return spec.Client
	}
	return e.namespace
}

// Submit creates a Job realizing spec and returns its name. A failure here
// is the caller's signal to requeue the item or surface a dispatch error;
// the executor never retries on its own.
func (e *Executor) Submit(ctx context.Context, spec Spec) (string, error) {
	if spec.Name == "" || spec.Image == "" {
		return "", fmt.Errorf("executor: spec requires a name and image")
	}
	ns := e.namespaceFor(spec)

	requests := corev1.ResourceList{}
	if spec.MemoryMB > 0 {
		requests["memory"] = resource.MustParse(fmt.Sprintf("%dMi", spec.MemoryMB))
	}
	if spec.CPUMillis > 0 {
		requests["cpu"] = resource.MustParse(fmt.Sprintf("%dm", spec.CPUMillis))
	}

	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: ns,
			Labels:    map[string]string{"qosd/client": spec.Client},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:      spec.Name,
							Image:     spec.Image,
							Command:   spec.Command,
							Env:       envMapToEnvVars(spec.Env),
							Resources: corev1.ResourceRequirements{Requests: requests, Limits: requests},
						},
					},
				},
			},
		},
	}

	created, err := e.clientset.BatchV1().Jobs(ns).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		e.log.Error("failed to submit job %s/%s: %v", ns, spec.Name, err)
		return "", fmt.Errorf("executor: create job %s/%s: %w", ns, spec.Name, err)
	}

	e.log.Debug("submitted job %s/%s", ns, created.Name)
	return created.Name, nil
}

// Status fetches the current state of a submitted Job.
func (e *Executor) Status(ctx context.Context, namespace, name string) (Status, error) {
	job, err := e.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return Status{}, fmt.Errorf("executor: get job %s/%s: %w", namespace, name, err)
	}
	return Status{
		Name:      job.Name,
		Namespace: job.Namespace,
		Active:    job.Status.Active,
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}, nil
}

// Delete removes a completed or stale Job.
func (e *Executor) Delete(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := e.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("executor: delete job %s/%s: %w", namespace, name, err)
	}
	return nil
}

func envMapToEnvVars(envMap map[string]string) []corev1.EnvVar {
	var envVars []corev1.EnvVar
	for key, value := range envMap {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}
	return envVars
}
